package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"anpr-recorder/internal/domain/anpr"
	"anpr-recorder/internal/repository"
	"anpr-recorder/internal/service"
)

type stubRepo struct {
	detections []anpr.Detection
	segments   map[string]anpr.VideoSegment
}

func (r *stubRepo) GetDetection(_ context.Context, id string) (*anpr.Detection, error) {
	return nil, repository.ErrNotFound
}

func (r *stubRepo) GetSegment(_ context.Context, id string) (*anpr.VideoSegment, error) {
	seg, ok := r.segments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &seg, nil
}

func (r *stubRepo) QueryDetections(_ context.Context, f repository.DetectionFilter) ([]anpr.Detection, error) {
	return r.detections, nil
}

func (r *stubRepo) QuerySegments(_ context.Context, f repository.SegmentFilter) ([]anpr.VideoSegment, error) {
	var out []anpr.VideoSegment
	for _, seg := range r.segments {
		out = append(out, seg)
	}
	return out, nil
}

func (r *stubRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	return 2, nil
}

func (r *stubRepo) Reconcile(_ context.Context) int { return 1 }
func (r *stubRepo) PendingCount() int               { return 1 }

type stubStatus struct {
	statuses map[string]anpr.CameraStatus
}

func (s *stubStatus) Status(cameraID string) (anpr.CameraStatus, bool) {
	st, ok := s.statuses[cameraID]
	return st, ok
}

func (s *stubStatus) CameraIDs() []string {
	ids := make([]string, 0, len(s.statuses))
	for id := range s.statuses {
		ids = append(ids, id)
	}
	return ids
}

const testSecret = "test-secret"

func newTestRouter(repo *stubRepo, status *stubStatus) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	svc := service.NewANPRService(repo, status, zerolog.Nop())
	NewHandler(svc, zerolog.Nop()).Register(r, NewAuthMiddleware(testSecret))
	return r
}

func signToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestCameraStatusEndpoint(t *testing.T) {
	segID := "seg-1"
	status := &stubStatus{statuses: map[string]anpr.CameraStatus{
		"cam-01": {
			CameraID:        "cam-01",
			State:           anpr.CameraRecording,
			ActiveSegmentID: &segID,
			FramesSeen:      120,
		},
	}}
	router := newTestRouter(&stubRepo{segments: map[string]anpr.VideoSegment{}}, status)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cameras/cam-01/status", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", w.Code)
	}

	var body struct {
		Data anpr.CameraStatus `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Data.State != anpr.CameraRecording {
		t.Errorf("state %s, want RECORDING", body.Data.State)
	}
	if body.Data.ActiveSegmentID == nil || *body.Data.ActiveSegmentID != "seg-1" {
		t.Error("active segment id missing from status")
	}
}

func TestCameraStatusUnknownCamera(t *testing.T) {
	router := newTestRouter(&stubRepo{segments: map[string]anpr.VideoSegment{}}, &stubStatus{statuses: map[string]anpr.CameraStatus{}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cameras/cam-99/status", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", w.Code)
	}
}

func TestListDetections(t *testing.T) {
	repo := &stubRepo{
		detections: []anpr.Detection{{ID: "det-1", CameraID: "cam-01", Plate: "ABC1234", Confidence: 0.9}},
		segments:   map[string]anpr.VideoSegment{},
	}
	router := newTestRouter(repo, &stubStatus{statuses: map[string]anpr.CameraStatus{}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/detections?camera_id=cam-01&min_confidence=0.5", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", w.Code)
	}

	var body struct {
		Data []anpr.Detection `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].Plate != "ABC1234" {
		t.Errorf("unexpected detections payload: %+v", body.Data)
	}
}

func TestListDetectionsInvalidTimeRange(t *testing.T) {
	router := newTestRouter(&stubRepo{segments: map[string]anpr.VideoSegment{}}, &stubStatus{statuses: map[string]anpr.CameraStatus{}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/detections?from=yesterday", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", w.Code)
	}
}

func TestGetSegment(t *testing.T) {
	repo := &stubRepo{segments: map[string]anpr.VideoSegment{
		"seg-1": {ID: "seg-1", CameraID: "cam-01", State: anpr.SegmentFinalized},
	}}
	router := newTestRouter(repo, &stubStatus{statuses: map[string]anpr.CameraStatus{}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/segments/seg-1", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/segments/missing", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", w.Code)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	router := newTestRouter(&stubRepo{segments: map[string]anpr.VideoSegment{}}, &stubStatus{statuses: map[string]anpr.CameraStatus{}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/reconcile", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated reconcile: status %d, want 401", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/reconcile", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated reconcile: status %d, want 200", w.Code)
	}

	var body struct {
		Pending int `json:"pending"`
		Healed  int `json:"healed"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Healed != 1 {
		t.Errorf("healed %d, want 1", body.Healed)
	}
}

func TestAdminCleanup(t *testing.T) {
	router := newTestRouter(&stubRepo{segments: map[string]anpr.VideoSegment{}}, &stubStatus{statuses: map[string]anpr.CameraStatus{}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/cleanup?days=7", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", w.Code)
	}

	var body struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Deleted != 2 {
		t.Errorf("deleted %d, want 2", body.Deleted)
	}
}
