// Package assets serves content-addressed asset blobs over HEAD, GET and PUT
// on /:filename. A filename's stem is the hex sha256 of its content.
package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/gin-gonic/gin"
	"github.com/rhplus0831/risugit/internal/assetdb"
	registryblob "github.com/rhplus0831/risugit/internal/registry/blob"
	"github.com/rhplus0831/risugit/internal/security"
)

const (
	cacheControl   = "public, max-age=31536000, immutable"
	defaultType    = "application/octet-stream"
	cacheCounters  = 1 << 18
	cacheMaxCost   = 1 << 16
	cacheBuffer    = 64
	defaultMaxSize = 25 * 1024 * 1024
)

// Handler holds the dependencies of the asset routes.
type Handler struct {
	db       *assetdb.DB
	store    registryblob.Store
	maxSize  int64
	cooldown time.Duration

	// exists remembers names known to have a metadata row.
	exists *ristretto.Cache[string, struct{}]
	// touched holds names whose access time was refreshed within cooldown.
	touched *ristretto.Cache[string, struct{}]
}

// New builds a Handler. A zero maxSize means 25 MB.
func New(db *assetdb.DB, store registryblob.Store, maxSize int64, cooldown time.Duration) (*Handler, error) {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	exists, err := newNameCache()
	if err != nil {
		return nil, fmt.Errorf("assets: exist cache: %w", err)
	}
	touched, err := newNameCache()
	if err != nil {
		exists.Close()
		return nil, fmt.Errorf("assets: access cache: %w", err)
	}
	return &Handler{
		db:       db,
		store:    store,
		maxSize:  maxSize,
		cooldown: cooldown,
		exists:   exists,
		touched:  touched,
	}, nil
}

func newNameCache() (*ristretto.Cache[string, struct{}], error) {
	return ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: cacheCounters,
		MaxCost:     cacheMaxCost,
		BufferItems: cacheBuffer,
	})
}

// Forget drops name from the in-memory caches. The cleanup service calls it
// after deleting an asset.
func (h *Handler) Forget(name string) {
	h.exists.Del(name)
	h.touched.Del(name)
}

func (h *Handler) Close() {
	h.exists.Close()
	h.touched.Close()
}

// MountRoutes mounts the asset routes.
func MountRoutes(r *gin.Engine, h *Handler) {
	r.HEAD("/:filename", h.head)
	r.GET("/:filename", h.get)
	r.PUT("/:filename", h.put)
}

func validName(c *gin.Context) (string, bool) {
	name := c.Param("filename")
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filename"})
		return "", false
	}
	return name, true
}

func (h *Handler) head(c *gin.Context) {
	name, ok := validName(c)
	if !ok {
		return
	}
	if _, hit := h.exists.Get(name); hit {
		c.Header("Cache-Control", cacheControl)
		c.Status(http.StatusOK)
		return
	}
	asset, err := h.db.Get(c.Request.Context(), name)
	if err != nil {
		handleError(c, err)
		return
	}
	if asset == nil {
		c.Status(http.StatusNotFound)
		return
	}
	h.exists.Set(name, struct{}{}, 1)
	c.Header("Cache-Control", cacheControl)
	c.Status(http.StatusOK)
}

func (h *Handler) get(c *gin.Context) {
	name, ok := validName(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	asset, err := h.db.Get(ctx, name)
	if err != nil {
		handleError(c, err)
		return
	}
	if asset == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	if _, recent := h.touched.Get(name); !recent {
		if err := h.db.Touch(ctx, name, time.Now()); err != nil {
			log.Warn("Failed to record asset access", "asset", name, "err", err)
		} else if h.cooldown > 0 {
			h.touched.SetWithTTL(name, struct{}{}, 1, h.cooldown)
		}
	}

	body, err := h.store.Get(ctx, name)
	if errors.Is(err, fs.ErrNotExist) {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	if err != nil {
		handleError(c, err)
		return
	}
	defer body.Close()

	contentType := asset.FileType
	if contentType == "" {
		contentType = defaultType
	}
	c.Header("Cache-Control", cacheControl)
	c.Header("Content-Type", contentType)
	if asset.FileSize > 0 {
		c.Header("Content-Length", fmt.Sprint(asset.FileSize))
	}
	c.Status(http.StatusOK)
	n, err := io.Copy(c.Writer, body)
	security.RecordAssetBytes(security.DirectionDownload, n)
	if err != nil {
		log.Warn("Asset download interrupted", "asset", name, "sent", n, "err", err)
	}
}

func (h *Handler) put(c *gin.Context) {
	name, ok := validName(c)
	if !ok {
		return
	}
	if c.Request.ContentLength > h.maxSize+1<<20 {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file is too large"})
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()
	if header.Size > h.maxSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file is too large"})
		return
	}

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	want, _, _ := strings.Cut(name, ".")
	if got := hex.EncodeToString(hasher.Sum(nil)); got != want {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("file is corrupt? expected %s, actual %s", want, got)})
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		handleError(c, err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultType
	}
	ctx := c.Request.Context()
	result, err := h.store.Put(ctx, name, file, contentType)
	if err != nil {
		handleError(c, err)
		return
	}
	if err := h.db.Upsert(ctx, assetdb.Asset{Filename: name, FileType: contentType, FileSize: result.Size}); err != nil {
		handleError(c, err)
		return
	}
	h.exists.Set(name, struct{}{}, 1)
	security.RecordAssetBytes(security.DirectionUpload, result.Size)
	log.Debug("Stored asset", "asset", name, "size", result.Size, "type", contentType)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func handleError(c *gin.Context, err error) {
	log.Error("Asset request failed", "path", c.Request.URL.Path, "requestId", security.RequestID(c), "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
