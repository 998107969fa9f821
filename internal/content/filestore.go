package content

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"go.yaml.in/yaml/v3"
)

// itemDoc is the on-disk YAML shape of a content item.
type itemDoc struct {
	ID             string     `yaml:"id"`
	Title          string     `yaml:"title"`
	URL            string     `yaml:"url"`
	Published      time.Time  `yaml:"published"`
	Tags           []string   `yaml:"tags,omitempty"`
	Cover          *imageDoc  `yaml:"cover,omitempty"`
	Images         []imageDoc `yaml:"images,omitempty"`
	SyndicatedURLs []urlDoc   `yaml:"syndicated_urls,omitempty"`
}

type imageDoc struct {
	Path string `yaml:"path"`
	Alt  string `yaml:"alt,omitempty"`
}

type urlDoc struct {
	URL string `yaml:"url"`
}

// FileStore keeps one YAML document per content item under a directory.
// It implements Store and is also the write side used by the feed
// watcher when new items appear.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore opens (creating if needed) a file-backed content store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) itemPath(id string) string {
	return filepath.Join(s.dir, id+".yaml")
}

func (s *FileStore) load(id string) (*itemDoc, error) {
	data, err := os.ReadFile(s.itemPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read content item: %w", err)
	}
	var doc itemDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse content item %s: %w", id, err)
	}
	return &doc, nil
}

func (s *FileStore) save(doc *itemDoc) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode content item: %w", err)
	}
	path := s.itemPath(doc.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write content item: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace content item: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, id string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(id)
	if err != nil {
		return nil, err
	}
	return &fileItem{doc: doc, dir: s.dir}, nil
}

// AppendSyndicatedURL implements Store. Appending an already-present URL
// is a no-op.
func (s *FileStore) AppendSyndicatedURL(ctx context.Context, id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(id)
	if err != nil {
		return err
	}
	for _, existing := range doc.SyndicatedURLs {
		if existing.URL == url {
			return nil
		}
	}
	doc.SyndicatedURLs = append(doc.SyndicatedURLs, urlDoc{URL: url})
	return s.save(doc)
}

// ItemSpec describes a content item for Put.
type ItemSpec struct {
	ID          string
	Title       string
	URL         string
	PublishedAt time.Time
	Tags        []string
}

// Put creates the item or refreshes its metadata, preserving recorded
// syndicated URLs and image attachments across updates.
func (s *FileStore) Put(ctx context.Context, spec ItemSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(spec.ID)
	if err != nil {
		if err != ErrNotFound {
			return err
		}
		doc = &itemDoc{ID: spec.ID}
	}
	doc.Title = spec.Title
	doc.URL = spec.URL
	doc.Published = spec.PublishedAt.UTC()
	doc.Tags = spec.Tags
	return s.save(doc)
}

// fileItem adapts an itemDoc to the Item interface.
type fileItem struct {
	doc *itemDoc
	dir string
}

func (it *fileItem) ID() string             { return it.doc.ID }
func (it *fileItem) Title() string          { return it.doc.Title }
func (it *fileItem) URL() string            { return it.doc.URL }
func (it *fileItem) PublishedAt() time.Time { return it.doc.Published }
func (it *fileItem) Tags() []string         { return it.doc.Tags }

func (it *fileItem) Cover() Image {
	if it.doc.Cover == nil {
		return nil
	}
	return &fileImage{doc: *it.doc.Cover, dir: it.dir}
}

func (it *fileItem) Images() []Image {
	images := make([]Image, 0, len(it.doc.Images))
	for _, img := range it.doc.Images {
		images = append(images, &fileImage{doc: img, dir: it.dir})
	}
	return images
}

func (it *fileItem) SyndicatedURLs() []string {
	urls := make([]string, 0, len(it.doc.SyndicatedURLs))
	for _, u := range it.doc.SyndicatedURLs {
		urls = append(urls, u.URL)
	}
	return urls
}

// fileImage is an image referenced by a content item, resolved relative
// to the store directory unless absolute.
type fileImage struct {
	doc imageDoc
	dir string
}

func (im *fileImage) Path() string {
	if filepath.IsAbs(im.doc.Path) {
		return im.doc.Path
	}
	return filepath.Join(im.dir, im.doc.Path)
}

func (im *fileImage) Alt() string { return im.doc.Alt }

// Resize materializes a preset variant next to the store under .thumbs,
// reusing an existing variant when present.
func (im *fileImage) Resize(preset string) (string, error) {
	src := im.Path()
	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	out := filepath.Join(im.dir, ".thumbs", name+"-"+preset+filepath.Ext(src))

	if _, err := os.Stat(out); err == nil {
		return out, nil
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return "", fmt.Errorf("failed to create thumbs directory: %w", err)
	}

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to open image %s: %w", src, err)
	}

	resized, err := applyPreset(img, preset)
	if err != nil {
		return "", err
	}
	if err := imaging.Save(resized, out); err != nil {
		return "", fmt.Errorf("failed to save resized image: %w", err)
	}
	return out, nil
}

// applyPreset interprets "square-N" as an N x N center crop and "Nw" as a
// proportional resize to width N.
func applyPreset(img image.Image, preset string) (image.Image, error) {
	if side, ok := strings.CutPrefix(preset, "square-"); ok {
		n, err := strconv.Atoi(side)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid square preset %q", preset)
		}
		return imaging.Fill(img, n, n, imaging.Center, imaging.Lanczos), nil
	}
	if width, ok := strings.CutSuffix(preset, "w"); ok {
		n, err := strconv.Atoi(width)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid width preset %q", preset)
		}
		return imaging.Resize(img, n, 0, imaging.Lanczos), nil
	}
	return nil, fmt.Errorf("unknown image preset %q", preset)
}
