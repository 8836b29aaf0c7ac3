package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/services/casework"
)

// registerRequest records a binary the client already put in storage.
type registerRequest struct {
	casework.FileMeta
	StoragePath string `json:"storage_object_path"`
}

type batchRequest struct {
	Paths []string `json:"paths"`
}

func (h *Handler) listFiles(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	files, err := h.svc.ListFiles(c.Request.Context(), principalFrom(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if files == nil {
		files = []model.CaseFile{}
	}
	respond(c, http.StatusOK, files)
}

// uploadFile takes either a multipart form with the binary in "file" or a
// JSON body naming an object that is already stored.
func (h *Handler) uploadFile(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}

	if c.ContentType() == "application/json" {
		var req registerRequest
		if err := bindJSON(c, &req); err != nil {
			h.fail(c, err)
			return
		}
		f, err := h.svc.Upload(c.Request.Context(), principalFrom(c), id, req.FileMeta, req.StoragePath)
		if err != nil {
			h.fail(c, err)
			return
		}
		respond(c, http.StatusCreated, f)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		h.fail(c, fmt.Errorf("%w: file: %v", errBadRequest, err))
		return
	}
	meta := casework.FileMeta{
		FileName:    fh.Filename,
		FileType:    c.PostForm("file_type"),
		UploadPhase: model.UploadPhase(c.DefaultPostForm("upload_phase", string(model.PhaseAdditional))),
	}
	if meta.FileType == "" {
		meta.FileType = fh.Header.Get("Content-Type")
	}
	body, err := fh.Open()
	if err != nil {
		h.fail(c, fmt.Errorf("%w: file: %v", errBadRequest, err))
		return
	}
	defer body.Close()

	f, err := h.svc.Store(c.Request.Context(), principalFrom(c), id, meta, body, fh.Size)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, f)
}

func (h *Handler) deleteFile(c *gin.Context) {
	id, err := parseID(c, "fileID")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.svc.Delete(c.Request.Context(), principalFrom(c), id); err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"deleted": id})
}

func (h *Handler) fileURL(c *gin.Context) {
	id, err := parseID(c, "fileID")
	if err != nil {
		h.fail(c, err)
		return
	}
	url, err := h.svc.FileURL(c.Request.Context(), principalFrom(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"url": url})
}

// caseFileURLs mints URLs for the requested paths of one case. Paths that
// are not files of the case, or whose signing failed, are absent.
func (h *Handler) caseFileURLs(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var req batchRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			h.fail(c, err)
			return
		}
	}
	urls, err := h.svc.CaseFileURLs(c.Request.Context(), principalFrom(c), id, req.Paths)
	if err != nil {
		h.fail(c, err)
		return
	}
	if urls == nil {
		urls = map[string]string{}
	}
	respond(c, http.StatusOK, gin.H{"urls": urls})
}
