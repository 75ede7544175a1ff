package httpapi

import (
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

// getObject はバケット内のオブジェクトを返します (STORAGE_PUBLIC_BASE_URL の配信口)
// HEAD は本文を開かずヘッダーだけ返す
func (h *handler) getObject(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(path.Clean("/"+chi.URLParam(r, "*")), "/")
	if key == "" || key == "." {
		writeError(w, http.StatusNotFound, "object not found")
		return
	}

	contentType, size, err := h.deps.Objects.Attributes(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	rc, err := h.deps.Objects.Open(r.Context(), key)
	if err != nil {
		w.Header().Del("Content-Length")
		h.writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("failed to stream object", "key", key, "error", err)
	}
}
