// Package backup archives the brain directory's data files into tar.gz
// snapshots and restores them. Only the flat data formats are archived;
// locks, sockets, and anything executable never travel through a backup.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
)

const (
	namePrefix = "nexus_backup_"
	nameSuffix = ".tar.gz"
	stampFmt   = "2006-01-02_150405"
)

var archivedExts = map[string]bool{
	".json":  true,
	".jsonl": true,
	".log":   true,
	".txt":   true,
}

// Info describes one archive.
type Info struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Files     int       `json:"files"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// RestoreResult reports what an extraction wrote.
type RestoreResult struct {
	Name     string `json:"name"`
	Files    int    `json:"files"`
	Bytes    int64  `json:"bytes"`
	Rejected int    `json:"rejected"`
}

// Manager creates, lists, and restores archives.
type Manager struct {
	brainDir   string
	backupDir  string
	maxBackups int
	log        *zap.Logger
	now        func() time.Time
}

// New builds a manager. maxBackups 0 keeps everything.
func New(brainDir, backupDir string, maxBackups int, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		brainDir:   brainDir,
		backupDir:  backupDir,
		maxBackups: maxBackups,
		log:        log,
		now:        time.Now,
	}
}

// ValidName reports whether name looks like one of our archives. Restore
// callers turn a false into a 400.
func ValidName(name string) bool {
	return name == filepath.Base(name) &&
		strings.HasPrefix(name, namePrefix) &&
		strings.HasSuffix(name, nameSuffix) &&
		len(name) > len(namePrefix)+len(nameSuffix)
}

// Create archives the brain directory's data files. The optional tag lands
// in the file name.
func (m *Manager) Create(tag string) (Info, error) {
	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return Info{}, nexuserr.Wrap(nexuserr.KindInternal, "backup dir", err)
	}
	name := namePrefix + m.now().UTC().Format(stampFmt)
	if tag = sanitizeTag(tag); tag != "" {
		name += "_" + tag
	}
	name += nameSuffix
	finalPath := filepath.Join(m.backupDir, name)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return Info{}, nexuserr.Wrap(nexuserr.KindInternal, "backup create", err)
	}
	files, err := m.writeArchive(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return Info{}, nexuserr.Wrap(nexuserr.KindInternal, "backup write", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return Info{}, nexuserr.Wrap(nexuserr.KindInternal, "backup rename", err)
	}

	st, err := os.Stat(finalPath)
	if err != nil {
		return Info{}, nexuserr.Wrap(nexuserr.KindInternal, "backup stat", err)
	}
	info := Info{
		Name:      name,
		Path:      finalPath,
		Files:     files,
		SizeBytes: st.Size(),
		CreatedAt: st.ModTime().UTC(),
	}
	m.prune()
	m.log.Info("backup created", zap.String("name", name), zap.Int("files", files))
	return info, nil
}

func (m *Manager) writeArchive(w io.Writer) (int, error) {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	files := 0

	err := filepath.WalkDir(m.brainDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == m.brainDir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !archivedExts[filepath.Ext(path)] {
			return nil
		}
		rel, err := filepath.Rel(m.brainDir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr := &tar.Header{
			Name:    filepath.ToSlash(rel),
			Mode:    0o644,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, src)
		src.Close()
		if err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		return files, err
	}
	if err := tw.Close(); err != nil {
		return files, err
	}
	return files, gz.Close()
}

// List returns archives newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nexuserr.Wrap(nexuserr.KindInternal, "backup list", err)
	}
	var out []Info
	for _, e := range entries {
		if e.IsDir() || !ValidName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			Name:      e.Name(),
			Path:      filepath.Join(m.backupDir, e.Name()),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().UTC(),
		})
	}
	// Timestamps embed in names, so name order is creation order.
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}

// Restore extracts the named archive back into the brain directory.
// Members with absolute paths or traversal are dropped and counted.
func (m *Manager) Restore(name string) (RestoreResult, error) {
	if !ValidName(name) {
		return RestoreResult{}, nexuserr.Newf(nexuserr.KindValidation, "invalid backup name %q", name)
	}
	f, err := os.Open(filepath.Join(m.backupDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return RestoreResult{}, nexuserr.Newf(nexuserr.KindNotFound, "backup %q not found", name)
		}
		return RestoreResult{}, nexuserr.Wrap(nexuserr.KindInternal, "backup open", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return RestoreResult{}, nexuserr.Wrap(nexuserr.KindCorrupt, "backup gzip", err)
	}
	defer gz.Close()

	res := RestoreResult{Name: name}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, nexuserr.Wrap(nexuserr.KindCorrupt, "backup tar", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		member := hdr.Name
		if strings.HasPrefix(member, "/") || strings.Contains(member, "..") {
			res.Rejected++
			m.log.Warn("backup member rejected", zap.String("member", member))
			continue
		}
		target := filepath.Join(m.brainDir, filepath.FromSlash(member))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return res, nexuserr.Wrap(nexuserr.KindInternal, "restore mkdir", err)
		}
		n, err := writeMember(target, tr)
		if err != nil {
			return res, nexuserr.Wrap(nexuserr.KindInternal, "restore write", err)
		}
		res.Files++
		res.Bytes += n
	}
	m.log.Info("backup restored",
		zap.String("name", name),
		zap.Int("files", res.Files),
		zap.Int("rejected", res.Rejected))
	return res, nil
}

func writeMember(target string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func (m *Manager) prune() {
	if m.maxBackups <= 0 {
		return
	}
	infos, err := m.List()
	if err != nil || len(infos) <= m.maxBackups {
		return
	}
	for _, old := range infos[m.maxBackups:] {
		if err := os.Remove(old.Path); err != nil {
			m.log.Warn("backup prune failed", zap.String("name", old.Name), zap.Error(err))
			continue
		}
		m.log.Info("backup pruned", zap.String("name", old.Name))
	}
}

func sanitizeTag(tag string) string {
	var b strings.Builder
	for _, r := range tag {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
