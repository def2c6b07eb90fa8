package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	ErrTooLarge    = errors.New("file exceeds the upload size limit")
	ErrNotAnImage  = errors.New("file is not a supported image")
	ErrInvalidName = errors.New("invalid stored file name")
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

// StoredFile describes a file written under the upload root.
type StoredFile struct {
	// Name is relative to the upload root, always slash separated.
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// Storage writes uploads below a single root directory.
type Storage struct {
	root    string
	maxSize int64
}

func NewStorage(root string, maxSize int64) (*Storage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &Storage{root: abs, maxSize: maxSize}, nil
}

func (s *Storage) Root() string {
	return s.root
}

func (s *Storage) MaxSize() int64 {
	return s.maxSize
}

// Path resolves a stored name to its location on disk. Names that would
// escape the root are rejected.
func (s *Storage) Path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.root, clean), nil
}

// NewDir creates a fresh randomly named directory below the root and records
// it in the ledger.
func (s *Storage) NewDir(prefix string, ledger *Ledger) (string, error) {
	name := prefix + "-" + uuid.NewString()
	path := filepath.Join(s.root, name)
	if err := os.Mkdir(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	ledger.Add(path)
	return name, nil
}

// SaveImage copies an uploaded image into dir (a stored name, "" for the
// root) under a random name. The content type is sniffed from the data, not
// taken from the client.
func (s *Storage) SaveImage(fh *multipart.FileHeader, dir string, ledger *Ledger) (StoredFile, error) {
	if fh.Size > s.maxSize {
		return StoredFile{}, ErrTooLarge
	}
	src, err := fh.Open()
	if err != nil {
		return StoredFile{}, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return StoredFile{}, fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]
	contentType := mimetype.Detect(head).String()
	ext, ok := imageExtensions[contentType]
	if !ok {
		return StoredFile{}, fmt.Errorf("%w: %s", ErrNotAnImage, contentType)
	}

	name := uuid.NewString() + ext
	if dir != "" {
		name = dir + "/" + name
	}
	path, err := s.Path(name)
	if err != nil {
		return StoredFile{}, err
	}

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return StoredFile{}, fmt.Errorf("failed to create file: %w", err)
	}
	ledger.Add(path)
	defer dst.Close()

	written, err := io.Copy(dst, io.MultiReader(bytes.NewReader(head), io.LimitReader(src, s.maxSize-int64(n)+1)))
	if err != nil {
		return StoredFile{}, fmt.Errorf("failed to write file: %w", err)
	}
	if written > s.maxSize {
		return StoredFile{}, ErrTooLarge
	}
	return StoredFile{Name: name, Size: written, ContentType: contentType}, nil
}

// RemoveAll deletes a stored file or directory.
func (s *Storage) RemoveAll(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	return os.RemoveAll(path)
}
