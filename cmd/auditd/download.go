package main

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/auditcore/pkg/storage/artifacts"
)

// downloadPath serves filesystem export artifacts. Point AUDIT_EXPORT_BASE_URL
// at this path on the public host so generated download URLs resolve here.
const downloadPath = "/exports/files/{name}"

func registerDownloadRoute(router *mux.Router, files *artifacts.FileSystemStore) {
	router.HandleFunc(downloadPath, func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]

		rc, contentType, err := files.Open(name)
		if errors.Is(err, artifacts.ErrArtifactNotFound) {
			http.Error(w, "export not found or expired", http.StatusNotFound)
			return
		} else if err != nil {
			http.Error(w, "failed to open export", http.StatusInternalServerError)
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
		_, _ = io.Copy(w, rc)
	}).Methods(http.MethodGet)
}
