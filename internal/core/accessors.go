package core

import (
	"github.com/theanh97/nexus-nuance-sub001/internal/action"
	"github.com/theanh97/nexus-nuance-sub001/internal/backup"
	"github.com/theanh97/nexus-nuance-sub001/internal/budget"
	"github.com/theanh97/nexus-nuance-sub001/internal/config"
	"github.com/theanh97/nexus-nuance-sub001/internal/debugger"
	"github.com/theanh97/nexus-nuance-sub001/internal/learning"
	"github.com/theanh97/nexus-nuance-sub001/internal/loop"
	"github.com/theanh97/nexus-nuance-sub001/internal/memory"
	"github.com/theanh97/nexus-nuance-sub001/internal/scout"
	"github.com/theanh97/nexus-nuance-sub001/internal/skills"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// Accessors hand narrow views of the system to the CLI and tests.

func (s *System) Config() *config.Config    { return s.cfg }
func (s *System) Actions() *action.Executor { return s.actions }
func (s *System) Backups() *backup.Manager  { return s.backups }
func (s *System) Learning() *learning.Loop  { return s.learning }
func (s *System) Tasks() *loop.Loop         { return s.tasks }
func (s *System) Memory() *memory.Store     { return s.mem }
func (s *System) Skills() *skills.Tracker   { return s.skills }
func (s *System) Scout() *scout.Scout       { return s.scout }
func (s *System) Debug() *debugger.Debugger { return s.debug }
func (s *System) Budget() *budget.Tracker   { return s.budget }
func (s *System) Store() *storage.Store     { return s.store }
