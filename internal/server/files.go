package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"gigline/internal/engine"
)

func fileModTime(f *os.File) time.Time {
	if info, err := f.Stat(); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

const maxSolutionUpload = 64 << 20 // 64 MiB

// registerFileRoutes wires the two endpoints huma cannot express well:
// multipart upload and raw file download. They sit on the chi router
// directly, behind the same auth middleware.
func registerFileRoutes(r chi.Router, basePath string, e engine.Engine) {
	r.Post(path.Join(basePath, "tasks/{id}/submit"), func(w http.ResponseWriter, req *http.Request) {
		principal, ok := principalFromContext(req.Context())
		if !ok {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			return
		}
		taskID, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid task id", nil))
			return
		}
		if err := req.ParseMultipartForm(maxSolutionUpload); err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid multipart form", nil))
			return
		}
		timeSpent, err := strconv.ParseFloat(req.FormValue("time_spent"), 64)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "time_spent must be a number", nil))
			return
		}
		file, header, err := req.FormFile("file")
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "file is required", nil))
			return
		}
		defer file.Close()

		t, err := e.SubmitTask(req.Context(), engine.TaskSubmitOptions{
			ID:        taskID,
			TimeSpent: timeSpent,
			Filename:  header.Filename,
			File:      file,
			Actor:     principal.Actor(),
		})
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(taskResponse(t))
	})

	r.Get(path.Join(basePath, "tasks/{id}/download"), func(w http.ResponseWriter, req *http.Request) {
		principal, ok := principalFromContext(req.Context())
		if !ok {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			return
		}
		taskID, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid task id", nil))
			return
		}
		t, f, err := e.OpenSolution(req.Context(), taskID, principal.Actor())
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		defer f.Close()
		name := "artifact"
		if t.SolutionPath != nil {
			name = filepath.Base(*t.SolutionPath)
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		http.ServeContent(w, req, name, fileModTime(f), f)
	})
}
