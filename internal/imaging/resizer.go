package imaging

import (
	"fmt"
	"path"
	"strings"

	"crowdtask-api/internal/upload"

	"github.com/disintegration/imaging"
)

// Size is a target thumbnail box in pixels.
type Size struct {
	Width  int
	Height int
}

// TaskThumbnail is the size of the card picture shown in task listings.
var TaskThumbnail = Size{Width: 487, Height: 365}

// Resizer produces thumbnails of stored images.
type Resizer struct {
	storage *upload.Storage
}

func NewResizer(storage *upload.Storage) *Resizer {
	return &Resizer{storage: storage}
}

// Thumbnail crops and scales the stored image to fill size and writes it as
// a JPEG next to the source. The new file is recorded in ledger.
func (r *Resizer) Thumbnail(name string, size Size, ledger *upload.Ledger) (upload.StoredFile, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return upload.StoredFile{}, fmt.Errorf("invalid thumbnail size %dx%d", size.Width, size.Height)
	}
	src, err := r.storage.Path(name)
	if err != nil {
		return upload.StoredFile{}, err
	}
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return upload.StoredFile{}, fmt.Errorf("failed to decode image: %w", err)
	}

	thumb := imaging.Fill(img, size.Width, size.Height, imaging.Center, imaging.Lanczos)

	outName := strings.TrimSuffix(name, path.Ext(name)) + fmt.Sprintf("-%dx%d.jpg", size.Width, size.Height)
	out, err := r.storage.Path(outName)
	if err != nil {
		return upload.StoredFile{}, err
	}
	if err := imaging.Save(thumb, out, imaging.JPEGQuality(85)); err != nil {
		return upload.StoredFile{}, fmt.Errorf("failed to write thumbnail: %w", err)
	}
	ledger.Add(out)
	return upload.StoredFile{Name: outName, ContentType: "image/jpeg"}, nil
}
