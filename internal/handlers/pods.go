package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/hopshell/internal/kube"
)

func podsReady(w http.ResponseWriter) bool {
	if Pods == nil {
		writeError(w, http.StatusServiceUnavailable, "Pod operations not initialized")
		return false
	}
	return true
}

// ListPods handles GET /api/pods.
func ListPods(w http.ResponseWriter, r *http.Request) {
	if !podsReady(w) {
		return
	}
	pods, err := Pods.ListRunningPods(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	if pods == nil {
		pods = []kube.PodSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pods": pods})
}

// SearchPods handles GET /api/pods/search?q=keyword.
func SearchPods(w http.ResponseWriter, r *http.Request) {
	if !podsReady(w) {
		return
	}
	q := r.URL.Query().Get("q")
	names, err := Pods.SearchPods(r.Context(), q)
	if err != nil {
		writeOpError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"query": q, "pods": names})
}

// DescribePod handles GET /api/pods/{name}/describe.
func DescribePod(w http.ResponseWriter, r *http.Request) {
	if !podsReady(w) {
		return
	}
	name := chi.URLParam(r, "name")
	text, err := Pods.DescribePod(r.Context(), name)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "description": text})
}

// TopPod handles GET /api/pods/{name}/top.
func TopPod(w http.ResponseWriter, r *http.Request) {
	if !podsReady(w) {
		return
	}
	name := chi.URLParam(r, "name")
	m, err := Pods.TopPod(r.Context(), name)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":           m.Name,
		"cpu":            m.CPU.String(),
		"memory":         m.Memory.String(),
		"cpu_millicores": m.CPUMillicores(),
		"memory_bytes":   m.MemoryBytes(),
	})
}
