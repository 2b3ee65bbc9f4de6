package models

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrUnknownModel = errors.New("models: unknown model")
	// ErrModelLoadFailed covers download, checksum and file-format failures.
	ErrModelLoadFailed = errors.New("models: model load failed")
)

// ggmlMagic is the little-endian uint32 every whisper.cpp model file starts with.
const ggmlMagic = 0x67676d6c

// Manager keeps model files in one directory.
type Manager struct {
	Dir    string
	Client *http.Client
	// BaseURL overrides the catalog download host, e.g. for a mirror.
	BaseURL string
}

// NewManager creates a manager rooted at dir.
func NewManager(dir string) *Manager {
	return &Manager{Dir: dir, Client: http.DefaultClient}
}

// List returns the catalog with Downloaded set for models present on disk.
func (m *Manager) List() []Model {
	out := Catalog()
	for i := range out {
		out[i].Downloaded = m.exists(out[i])
	}
	return out
}

// Get returns a catalog entry with its download state.
func (m *Manager) Get(id string) (Model, error) {
	model, ok := Lookup(id)
	if !ok {
		return Model{}, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	model.Downloaded = m.exists(model)
	return model, nil
}

// Path returns where the model file lives, whether or not it exists.
func (m *Manager) Path(id string) (string, error) {
	model, ok := Lookup(id)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return filepath.Join(m.Dir, model.File), nil
}

// Resolve returns the path of a downloaded, valid model file.
func (m *Manager) Resolve(id string) (string, error) {
	model, err := m.Get(id)
	if err != nil {
		return "", err
	}
	path := filepath.Join(m.Dir, model.File)
	if err := Verify(path, model.SHA256); err != nil {
		return "", err
	}
	return path, nil
}

// Download fetches a model into the manager directory, writing progress
// lines to progress (may be nil). An existing file is kept. Failures are
// returned for the caller to retry; nothing is retried here.
func (m *Manager) Download(ctx context.Context, id string, progress io.Writer) (string, error) {
	model, err := m.Get(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.Dir, 0755); err != nil {
		return "", fmt.Errorf("creating models dir: %w", err)
	}
	destPath := filepath.Join(m.Dir, model.File)
	if progress == nil {
		progress = io.Discard
	}

	if info, err := os.Stat(destPath); err == nil && info.Size() > 0 {
		fmt.Fprintf(progress, "  Model already exists: %s (%.0f MB)\n", destPath, float64(info.Size())/mb)
		return destPath, nil
	}

	url := model.URL
	if m.BaseURL != "" {
		url = strings.TrimSuffix(m.BaseURL, "/") + "/" + model.File
	}

	fmt.Fprintf(progress, "  Downloading %s\n", model.Name)
	fmt.Fprintf(progress, "  URL: %s\n", url)
	fmt.Fprintf(progress, "  Destination: %s\n", destPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrModelLoadFailed, id, err)
	}
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: downloading %s: %v", ErrModelLoadFailed, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: downloading %s: HTTP %d", ErrModelLoadFailed, id, resp.StatusCode)
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	hash := sha256.New()
	pw := &progressWriter{
		writer: io.MultiWriter(f, hash),
		out:    progress,
		total:  resp.ContentLength,
		label:  model.File,
	}

	written, err := io.Copy(pw, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: writing %s: %v", ErrModelLoadFailed, id, err)
	}
	fmt.Fprintf(progress, "\n  Downloaded %.1f MB\n", float64(written)/mb)

	if model.SHA256 != "" {
		if got := hex.EncodeToString(hash.Sum(nil)); !strings.EqualFold(got, model.SHA256) {
			os.Remove(tmpPath)
			return "", fmt.Errorf("%w: %s checksum mismatch: got %s, want %s", ErrModelLoadFailed, id, got, model.SHA256)
		}
	}
	if err := Verify(tmpPath, ""); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("moving model file: %w", err)
	}

	slog.Info("[MODELS] downloaded", "model", id, "bytes", written, "path", destPath)
	return destPath, nil
}

// Delete removes a downloaded model file.
func (m *Manager) Delete(id string) error {
	path, err := m.Path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing model %s: %w", id, err)
	}
	return nil
}

// Verify checks that path is a ggml model file and, when sha256Hex is
// set, that its contents hash to it.
func Verify(path, sha256Hex string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelLoadFailed, err)
	}
	defer f.Close()

	var magic uint32
	if err := binary.Read(f, binary.LittleEndian, &magic); err != nil {
		return fmt.Errorf("%w: %s: reading header: %v", ErrModelLoadFailed, path, err)
	}
	if magic != ggmlMagic {
		return fmt.Errorf("%w: %s is not a ggml model (magic %#x)", ErrModelLoadFailed, path, magic)
	}

	if sha256Hex == "" {
		return nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %v", ErrModelLoadFailed, err)
	}
	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return fmt.Errorf("%w: hashing %s: %v", ErrModelLoadFailed, path, err)
	}
	if got := hex.EncodeToString(hash.Sum(nil)); !strings.EqualFold(got, sha256Hex) {
		return fmt.Errorf("%w: %s checksum mismatch", ErrModelLoadFailed, path)
	}
	return nil
}

func (m *Manager) exists(model Model) bool {
	info, err := os.Stat(filepath.Join(m.Dir, model.File))
	return err == nil && info.Size() > 0
}

// progressWriter wraps an io.Writer and prints download progress.
type progressWriter struct {
	writer  io.Writer
	out     io.Writer
	total   int64
	written int64
	label   string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.total > 0 {
		pct := float64(pw.written) / float64(pw.total) * 100
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB / %.1f MB (%.0f%%)",
			pw.label,
			float64(pw.written)/mb,
			float64(pw.total)/mb,
			pct)
	} else {
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB downloaded",
			pw.label,
			float64(pw.written)/mb)
	}
	return n, err
}
