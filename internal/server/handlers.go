package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/conduit-lang/deltapatch/internal/delta"
	"github.com/conduit-lang/deltapatch/internal/orm/schema"
	"github.com/conduit-lang/deltapatch/internal/patch"
)

// ModelInfo describes a registered model
type ModelInfo struct {
	Name    string      `json:"name"`
	Table   string      `json:"table"`
	Fields  []FieldInfo `json:"fields"`
	KeySets []KeyInfo   `json:"keySets"`
}

// FieldInfo describes one model field
type FieldInfo struct {
	Name       string   `json:"name"`
	DeltaName  string   `json:"deltaName"`
	Type       string   `json:"type,omitempty"`
	Nullable   bool     `json:"nullable,omitempty"`
	EnumValues []string `json:"enumValues,omitempty"`
	Elem       string   `json:"elem,omitempty"`
	Inverse    string   `json:"inverse,omitempty"`
}

// KeyInfo describes one key set
type KeyInfo struct {
	Name    string   `json:"name"`
	Primary bool     `json:"primary"`
	Fields  []string `json:"fields"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models := s.engine.Registry().Models()
	out := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		out = append(out, describeModel(m))
	}
	renderJSON(w, http.StatusOK, out)
}

// handlePatchModel patches one object or an array of objects of the model
// named in the path
func (s *Server) handlePatchModel(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")

	items, isArray, ok := s.decodeBody(w, r)
	if !ok {
		return
	}

	deltas := make([]*delta.Delta, 0, len(items))
	for i, item := range items {
		d, ok := item.(*delta.Delta)
		if !ok {
			renderError(w, http.StatusBadRequest, fmt.Errorf("item %d is not an object", i))
			return
		}
		deltas = append(deltas, d)
	}

	ctx := r.Context()
	var (
		result *patch.Result
		err    error
	)
	if isArray {
		result, err = s.engine.PatchMany(ctx, model, deltas)
	} else {
		result, err = s.engine.PatchOne(ctx, model, deltas[0])
	}
	if err != nil {
		s.logger.Debug("patch failed", zap.String("model", model), zap.Error(err))
		renderPatchError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// handlePatchTyped patches a list of {"model": ..., "delta": {...}} entries
// in one transaction
func (s *Server) handlePatchTyped(w http.ResponseWriter, r *http.Request) {
	items, _, ok := s.decodeBody(w, r)
	if !ok {
		return
	}

	typed, err := delta.ParseTypedList(items)
	if err != nil {
		renderError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.engine.PatchUntyped(r.Context(), typed)
	if err != nil {
		s.logger.Debug("patch failed", zap.Error(err))
		renderPatchError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// decodeBody reads a JSON or YAML body. It renders the error response and
// returns false when the body cannot be used.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request) ([]interface{}, bool, bool) {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	defer body.Close()

	decode := delta.DecodeJSON
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil {
			renderError(w, http.StatusUnsupportedMediaType, err)
			return nil, false, false
		}
		switch mediaType {
		case "application/json":
		case "application/yaml", "application/x-yaml", "text/yaml":
			decode = delta.DecodeYAML
		default:
			renderError(w, http.StatusUnsupportedMediaType, fmt.Errorf("unsupported content type %s", mediaType))
			return nil, false, false
		}
	}

	items, isArray, err := decode(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			renderError(w, http.StatusRequestEntityTooLarge, err)
		case errors.Is(err, io.EOF):
			renderError(w, http.StatusBadRequest, errors.New("empty request body"))
		default:
			renderError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		}
		return nil, false, false
	}
	return items, isArray, true
}

func describeModel(m *schema.Model) ModelInfo {
	info := ModelInfo{
		Name:    m.Name,
		Table:   m.Table,
		Fields:  make([]FieldInfo, 0, len(m.Fields)),
		KeySets: make([]KeyInfo, 0, len(m.KeySets)),
	}
	for _, f := range m.Fields {
		fi := FieldInfo{
			Name:       f.Name,
			DeltaName:  f.DeltaName,
			Nullable:   f.Nullable,
			EnumValues: f.EnumValues,
			Elem:       f.Elem,
			Inverse:    f.Inverse,
		}
		if !f.Collection {
			fi.Type = f.Type.String()
		}
		info.Fields = append(info.Fields, fi)
	}
	for _, ks := range m.KeySets {
		info.KeySets = append(info.KeySets, KeyInfo{Name: ks.Name, Primary: ks.Primary, Fields: ks.Fields})
	}
	return info
}
