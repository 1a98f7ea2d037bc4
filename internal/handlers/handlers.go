package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Brownie44l1/cxr-explain/internal/model"
	"github.com/Brownie44l1/cxr-explain/internal/pipeline"
)

// RequestIDHeader carries the per-request identifier.
const RequestIDHeader = "X-Request-ID"

// ExplainedClassHeader names the label a /explain overlay was computed for.
const ExplainedClassHeader = "X-Explained-Class"

type Handler struct {
	analyzer  *pipeline.Analyzer
	logger    *zap.Logger
	maxUpload int64
}

func NewHandler(analyzer *pipeline.Analyzer, logger *zap.Logger, maxUpload int64) *Handler {
	return &Handler{
		analyzer:  analyzer,
		logger:    logger,
		maxUpload: maxUpload,
	}
}

// Routes registers every endpoint on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", EnableCORS(h.Health))
	mux.HandleFunc("/predict/image", EnableCORS(h.PredictFromImage))
	mux.HandleFunc("/explain", EnableCORS(h.Explain))
	mux.HandleFunc("/analyze", EnableCORS(h.Analyze))
	return mux
}

func EnableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Expose-Headers", ExplainedClassHeader+", "+RequestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	log, img, ok := h.begin(w, r)
	if !ok {
		return
	}

	preds, err := h.analyzer.Classifier().Predict(img)
	if err != nil {
		h.fail(w, log, "Prediction failed", err)
		return
	}

	resp := model.PredictionResponse{Predictions: preds}
	if len(preds) > 0 {
		top := model.Rank(preds)[0]
		resp.Top = &top
	}
	log.Info("predicted", zap.Int("findings", len(preds)))
	writeJSON(w, http.StatusOK, resp)
}

// Explain returns a PNG overlay. The optional "class" query parameter
// accepts a label name or index; without it the most probable label is
// explained.
func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	log, img, ok := h.begin(w, r)
	if !ok {
		return
	}

	labels := h.analyzer.Labels()
	mapper := h.analyzer.Mapper()

	var err error
	var overlay image.Image
	var classIndex int
	if raw := strings.TrimSpace(r.URL.Query().Get("class")); raw != "" {
		classIndex, err = parseClass(labels, raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, err := mapper.ExplainFor(img, classIndex)
		if err != nil {
			h.fail(w, log, "Explanation failed", err)
			return
		}
		overlay = res.Overlay
	} else {
		res, err := mapper.ExplainTop(img)
		if err != nil {
			h.fail(w, log, "Explanation failed", err)
			return
		}
		overlay, classIndex = res.Overlay, res.ClassIndex
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, overlay); err != nil {
		h.fail(w, log, "Failed to encode overlay", err)
		return
	}

	log.Info("explained", zap.String("label", labels[classIndex]), zap.Int("class_index", classIndex))
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set(ExplainedClassHeader, labels[classIndex])
	w.Write(buf.Bytes())
}

// AnalyzeResponse is the JSON body of /analyze.
type AnalyzeResponse struct {
	Predictions    []model.Prediction `json:"predictions"`
	Listing        string             `json:"listing"`
	Summary        string             `json:"summary"`
	ExplainedClass string             `json:"explained_class,omitempty"`
	ClassIndex     int                `json:"class_index"`
	OverlayPNG     string             `json:"overlay_png"`
}

func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	log, img, ok := h.begin(w, r)
	if !ok {
		return
	}

	report, err := h.analyzer.Analyze(r.Context(), img)
	if err != nil {
		h.fail(w, log, "Analysis failed", err)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, report.Overlay); err != nil {
		h.fail(w, log, "Failed to encode overlay", err)
		return
	}

	log.Info("analyzed",
		zap.Int("findings", len(report.Predictions)),
		zap.String("explained_class", report.ClassLabel))
	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Predictions:    report.Predictions,
		Listing:        report.Listing,
		Summary:        report.Summary,
		ExplainedClass: report.ClassLabel,
		ClassIndex:     report.ClassIndex,
		OverlayPNG:     base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}

// begin tags the request, checks the method and decodes the uploaded image.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request) (*zap.Logger, image.Image, bool) {
	requestID := uuid.NewString()
	w.Header().Set(RequestIDHeader, requestID)
	log := h.logger.With(zap.String("request_id", requestID), zap.String("path", r.URL.Path))

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, nil, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return nil, nil, false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return nil, nil, false
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		log.Warn("undecodable upload", zap.String("filename", header.Filename), zap.Error(err))
		http.Error(w, "Invalid image format. Supported: JPEG, PNG", http.StatusBadRequest)
		return nil, nil, false
	}

	log.Debug("received image",
		zap.String("filename", header.Filename),
		zap.Int64("bytes", header.Size),
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))
	return log, img, true
}

// fail maps core errors onto HTTP statuses without leaking internals.
func (h *Handler) fail(w http.ResponseWriter, log *zap.Logger, msg string, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidImage):
		http.Error(w, "Invalid image", http.StatusBadRequest)
	case errors.Is(err, model.ErrClassIndex):
		http.Error(w, "Unknown class", http.StatusBadRequest)
	case model.IsConfigError(err):
		log.Error("model configuration error", zap.Error(err))
		http.Error(w, msg+": model configuration error", http.StatusInternalServerError)
	default:
		log.Error(msg, zap.Error(err))
		http.Error(w, msg, http.StatusInternalServerError)
	}
}

func parseClass(labels []string, raw string) (int, error) {
	if idx := model.LabelIndex(labels, raw); idx >= 0 {
		return idx, nil
	}
	idx, err := strconv.Atoi(raw)
	if err != nil || idx < 0 || idx >= len(labels) {
		return 0, fmt.Errorf("unknown class %q", raw)
	}
	return idx, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
