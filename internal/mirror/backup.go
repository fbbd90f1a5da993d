package mirror

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ulikunitz/xz"
)

const (
	// backupTimeFormat sorts lexically and has sub-second resolution.
	backupTimeFormat = "20060102T150405.000000000Z"
	compressedSuffix = ".xz"
)

// BackupRecord describes one verified backup of the active configuration.
type BackupRecord struct {
	SourcePath string    `json:"source_path" yaml:"source_path"`
	BackupPath string    `json:"backup_path" yaml:"backup_path"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	Size       int64     `json:"size" yaml:"size"`
	SHA256     []byte    `json:"-" yaml:"-"`
}

// BackupInfo is a backup found in the backup directory.
type BackupInfo struct {
	Name       string
	Path       string
	Timestamp  time.Time
	Size       int64
	Compressed bool
}

// BackupManager keeps timestamped copies of the active configuration in a
// single directory.
type BackupManager struct {
	dir string
	now func() time.Time
}

// NewBackupManager creates a manager writing into dir.
func NewBackupManager(dir string) *BackupManager {
	return &BackupManager{
		dir: dir,
		now: time.Now,
	}
}

// Dir returns the backup directory.
func (bm *BackupManager) Dir() string {
	return bm.dir
}

// Create copies src into the backup directory and verifies the copy.
// Any failure is ErrBackupFailed; the caller must not mutate src then.
func (bm *BackupManager) Create(src string) (*BackupRecord, error) {
	record, err := bm.create(src)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "backup of %s", src), ErrBackupFailed)
	}
	if err := bm.Verify(record); err != nil {
		_ = os.Remove(record.BackupPath)
		return nil, err
	}
	slog.Info("backup created", "source", src, "backup", record.BackupPath)
	return record, nil
}

func (bm *BackupManager) create(src string) (*BackupRecord, error) {
	if err := os.MkdirAll(bm.dir, 0750); err != nil {
		return nil, err
	}

	in, err := os.Open(src) // #nosec G304 - src is the configured sources path
	if err != nil {
		return nil, err
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return nil, err
	}

	timestamp := bm.now().UTC()
	out, backupPath, err := bm.createUnique(filepath.Base(src), timestamp)
	if err != nil {
		return nil, err
	}

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, hash), in)
	if err == nil {
		err = out.Sync()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(backupPath, st.Mode().Perm())
	}
	if err == nil {
		err = DirSync(bm.dir)
	}
	if err != nil {
		_ = os.Remove(backupPath)
		return nil, err
	}

	return &BackupRecord{
		SourcePath: src,
		BackupPath: backupPath,
		Timestamp:  timestamp,
		Size:       n,
		SHA256:     hash.Sum(nil),
	}, nil
}

// createUnique opens a new backup file, adding a numeric suffix if the
// timestamped name is already taken.
func (bm *BackupManager) createUnique(base string, timestamp time.Time) (*os.File, string, error) {
	name := base + "." + timestamp.Format(backupTimeFormat)
	for i := 0; i < 100; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", name, i)
		}
		p := filepath.Join(bm.dir, candidate)
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600) // #nosec G304 - name built from timestamp
		if err == nil {
			return f, p, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
	}
	return nil, "", errors.New("too many backups with the same timestamp: " + name)
}

// Verify checks that the backup file exists, is not empty and matches the
// recorded size and checksum.
func (bm *BackupManager) Verify(record *BackupRecord) error {
	fail := func(format string, args ...interface{}) error {
		return errors.Wrapf(ErrBackupFailed, format, args...)
	}

	st, err := os.Stat(record.BackupPath)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "backup missing"), ErrBackupFailed)
	}
	if !st.Mode().IsRegular() {
		return fail("%s is not a regular file", record.BackupPath)
	}
	if st.Size() == 0 {
		return fail("%s is empty", record.BackupPath)
	}
	if st.Size() != record.Size {
		return fail("%s has %d bytes, want %d", record.BackupPath, st.Size(), record.Size)
	}

	sum, err := fileSHA256(record.BackupPath)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "reading backup"), ErrBackupFailed)
	}
	if record.SHA256 != nil && !bytes.Equal(sum, record.SHA256) {
		return fail("%s checksum mismatch", record.BackupPath)
	}
	return nil
}

// List returns the backups in the backup directory, newest first.
func (bm *BackupManager) List() ([]*BackupInfo, error) {
	entries, err := os.ReadDir(bm.dir)
	if os.IsNotExist(err) {
		return []*BackupInfo{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "listing backups")
	}

	var backups []*BackupInfo
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, ok := parseBackupName(entry.Name())
		if !ok {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		info.Path = filepath.Join(bm.dir, entry.Name())
		info.Size = fi.Size()
		backups = append(backups, info)
	}

	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].Timestamp.Equal(backups[j].Timestamp) {
			return backups[i].Timestamp.After(backups[j].Timestamp)
		}
		return backups[i].Name > backups[j].Name
	})
	return backups, nil
}

// parseBackupName extracts the timestamp from "<base>.<timestamp>[-N][.xz]".
func parseBackupName(name string) (*BackupInfo, bool) {
	info := &BackupInfo{Name: name}
	rest := name
	if strings.HasSuffix(rest, compressedSuffix) {
		info.Compressed = true
		rest = strings.TrimSuffix(rest, compressedSuffix)
	}
	dot := strings.LastIndex(rest, ".")
	if dot < 0 {
		return nil, false
	}
	// the timestamp itself contains a dot before the fraction
	dot = strings.LastIndex(rest[:dot], ".")
	if dot < 0 {
		return nil, false
	}
	stamp := rest[dot+1:]
	if i := strings.LastIndex(stamp, "-"); i >= 0 {
		stamp = stamp[:i]
	}
	ts, err := time.Parse(backupTimeFormat, stamp)
	if err != nil {
		return nil, false
	}
	info.Timestamp = ts
	return info, true
}

// Prune keeps the newest keepLast plain backups. Older ones are removed, or
// compressed to ".xz" when compress is true. It returns the affected names.
func (bm *BackupManager) Prune(keepLast int, compress, dryRun bool) ([]string, error) {
	backups, err := bm.List()
	if err != nil {
		return nil, err
	}

	var affected []string
	kept := 0
	for _, b := range backups {
		if kept < keepLast && !b.Compressed {
			kept++
			continue
		}
		if compress && b.Compressed {
			continue
		}
		affected = append(affected, b.Name)
		if dryRun {
			continue
		}
		if compress {
			if err := compressFile(b.Path); err != nil {
				return affected, errors.Wrapf(err, "compressing backup %s", b.Name)
			}
			slog.Info("backup compressed", "backup", b.Name)
			continue
		}
		if err := os.Remove(b.Path); err != nil {
			return affected, errors.Wrapf(err, "removing backup %s", b.Name)
		}
		slog.Info("backup removed", "backup", b.Name)
	}
	if !dryRun && len(affected) > 0 {
		if err := DirSync(bm.dir); err != nil {
			return affected, err
		}
	}
	return affected, nil
}

// Restore writes the named backup back to dst atomically.
// Compressed backups are decompressed on the fly.
func (bm *BackupManager) Restore(name, dst string) error {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return errors.Newf("invalid backup name %q", name)
	}
	info, ok := parseBackupName(name)
	if !ok {
		return errors.Newf("%q is not a backup name", name)
	}

	data, err := readBackup(filepath.Join(bm.dir, name), info.Compressed)
	if err != nil {
		return errors.Wrapf(err, "reading backup %s", name)
	}
	if len(data) == 0 {
		return errors.Wrapf(ErrBackupFailed, "backup %s is empty", name)
	}

	mode := os.FileMode(0644)
	if st, err := os.Stat(dst); err == nil {
		mode = st.Mode().Perm()
	}
	if err := writeFileAtomic(dst, data, mode); err != nil {
		return errors.Wrapf(err, "restoring %s", dst)
	}

	restored, err := fileSHA256(dst)
	if err != nil {
		return err
	}
	want := sha256.Sum256(data)
	if !bytes.Equal(restored, want[:]) {
		return errors.Newf("restored %s does not match backup %s", dst, name)
	}
	slog.Info("backup restored", "backup", name, "path", dst)
	return nil
}

func readBackup(p string, compressed bool) ([]byte, error) {
	f, err := os.Open(p) // #nosec G304 - p is inside the backup directory
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if compressed {
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, err
		}
		r = xr
	}
	return io.ReadAll(r)
}

// compressFile replaces p with p+".xz".
func compressFile(p string) error {
	in, err := os.Open(p) // #nosec G304 - p is inside the backup directory
	if err != nil {
		return err
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return err
	}

	dst := p + compressedSuffix
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, st.Mode().Perm()) // #nosec G304 - derived from p
	if err != nil {
		return err
	}
	xw, err := xz.NewWriter(out)
	if err == nil {
		_, err = io.Copy(xw, in)
		if closeErr := xw.Close(); err == nil {
			err = closeErr
		}
	}
	if err == nil {
		err = out.Sync()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(p)
}

func fileSHA256(p string) ([]byte, error) {
	f, err := os.Open(p) // #nosec G304
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
