package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"perfume-store/internal/media"
	"perfume-store/internal/models"
	"perfume-store/internal/redisclient"
	"perfume-store/internal/service"
	"perfume-store/internal/store/memstore"
	"perfume-store/internal/util"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

type noopPublisher struct{}

func (noopPublisher) PublishOrderPlaced(ctx context.Context, e *models.OrderPlacedEvent) error {
	return nil
}

func (noopPublisher) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	return nil
}

type testServer struct {
	router *gin.Engine
	store  *memstore.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	_ = util.InitLogger("test")

	mr := miniredis.RunT(t)
	rc := redisclient.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { rc.Close() })

	dir := t.TempDir()
	images, err := media.NewLocalStorage(dir, "/media")
	require.NoError(t, err)

	st := memstore.New()
	h := NewHandler(
		service.NewCatalogService(st, rc, images, time.Minute),
		service.NewCartService(st),
		service.NewOrderService(st, rc, rc, noopPublisher{}, time.Minute),
		service.NewReviewService(st),
		Options{
			JWTSecret:      testSecret,
			MaxUploadBytes: 1 << 20,
			MediaDir:       dir,
			Checks:         map[string]Pinger{"redis": rc},
		},
	)

	router := gin.New()
	h.SetupRoutes(router)
	return &testServer{router: router, store: st}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, userID int64) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		token, err := IssueToken(testSecret, userID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *testServer) perfume(name, price string, inventory int) models.Perfume {
	return s.store.AddPerfume(models.Perfume{
		Name:      name,
		Price:     decimal.RequireFromString(price),
		Inventory: inventory,
	})
}

func orderBody(lines ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"email":      "ada@example.com",
		"country":    "UK",
		"city":       "London",
		"address":    "12 St James's Square",
		"zipcode":    "SW1Y 4JH",
		"phone":      "+44 20 7946 0000",
		"items":      lines,
	}
}

func orderLine(p models.Perfume, quantity int) map[string]interface{} {
	return map[string]interface{}{
		"product":  map[string]interface{}{"id": p.ID},
		"quantity": quantity,
	}
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil, 0).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", nil, 0).Code)
}

func TestOrdersRequireToken(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/orders", nil, 0)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckoutOverHTTP(t *testing.T) {
	s := newTestServer(t)
	a := s.perfume("Oud", "10.00", 5)
	b := s.perfume("Musk", "35.00", 3)

	w := s.do(t, http.MethodPost, "/api/v1/orders", orderBody(orderLine(a, 2), orderLine(b, 1)), 1)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "55", body["total_amount"])
	assert.Equal(t, "pending", body["status"])

	id := int64(body["id"].(float64))
	w = s.do(t, http.MethodGet, "/api/v1/orders/"+itoa(id), nil, 1)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/orders/"+itoa(id), nil, 2)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/orders/"+itoa(id)+"/cancel", nil, 1)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 5, s.store.Inventory(a.ID))

	w = s.do(t, http.MethodPost, "/api/v1/orders/"+itoa(id)+"/cancel", nil, 1)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCheckoutInsufficientInventory(t *testing.T) {
	s := newTestServer(t)
	a := s.perfume("Oud", "10.00", 5)
	b := s.perfume("Musk", "35.00", 3)

	w := s.do(t, http.MethodPost, "/api/v1/orders", orderBody(orderLine(a, 2), orderLine(b, 5)), 1)

	require.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	assert.Equal(t, b.ID.String(), body["product_id"])
	assert.Equal(t, float64(3), body["available"])
	assert.Equal(t, 5, s.store.Inventory(a.ID))
}

func TestCheckoutValidation(t *testing.T) {
	s := newTestServer(t)
	a := s.perfume("Oud", "10.00", 5)

	req := orderBody(orderLine(a, 1))
	delete(req, "email")
	w := s.do(t, http.MethodPost, "/api/v1/orders", req, 1)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "email", decode(t, w)["field"])

	w = s.do(t, http.MethodPost, "/api/v1/orders", orderBody(orderLine(models.Perfume{ID: uuid.New()}, 1)), 1)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCartOverHTTP(t *testing.T) {
	s := newTestServer(t)
	a := s.perfume("Oud", "10.00", 5)

	w := s.do(t, http.MethodPost, "/api/v1/carts", nil, 0)
	require.Equal(t, http.StatusCreated, w.Code)
	cartID := decode(t, w)["id"].(string)

	add := map[string]interface{}{"product_id": a.ID, "quantity": 1}
	w = s.do(t, http.MethodPost, "/api/v1/carts/"+cartID+"/items", add, 0)
	assert.Equal(t, http.StatusCreated, w.Code)

	add["quantity"] = 2
	w = s.do(t, http.MethodPost, "/api/v1/carts/"+cartID+"/items", add, 0)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["quantity"])

	w = s.do(t, http.MethodGet, "/api/v1/carts/"+cartID, nil, 0)
	require.Equal(t, http.StatusOK, w.Code)
	cart := decode(t, w)
	assert.Equal(t, "30", cart["grand_total"])
	assert.Len(t, cart["items"], 1)

	unknown := map[string]interface{}{"product_id": uuid.New(), "quantity": 1}
	w = s.do(t, http.MethodPost, "/api/v1/carts/"+cartID+"/items", unknown, 0)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/carts/not-a-uuid", nil, 0)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReviewIgnoresProductInBody(t *testing.T) {
	s := newTestServer(t)
	a := s.perfume("Oud", "10.00", 5)
	b := s.perfume("Musk", "8.00", 5)

	body := map[string]interface{}{"name": "Sam", "description": "Lovely", "product": b.ID}
	w := s.do(t, http.MethodPost, "/api/v1/products/"+a.ID.String()+"/reviews", body, 0)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/products/"+b.ID.String()+"/reviews", nil, 0)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/products/"+a.ID.String()+"/reviews", nil, 0)
	require.Equal(t, http.StatusOK, w.Code)
	var reviews []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reviews))
	assert.Len(t, reviews, 1)
}

func TestCreateProductMultipart(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "Rose Oud"))
	require.NoError(t, mw.WriteField("price", "42.00"))
	require.NoError(t, mw.WriteField("inventory", "7"))
	for _, name := range []string{"front.png", "back.png"} {
		fw, err := mw.CreateFormFile("uploaded_images", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte("\x89PNG\r\n\x1a\npng-bytes"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	token, err := IssueToken(testSecret, 1)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "rose-oud", body["slug"])
	assert.Len(t, body["images"], 2)

	id := body["id"].(string)
	w = s.do(t, http.MethodGet, "/api/v1/products/"+id, nil, 0)
	assert.Equal(t, http.StatusOK, w.Code)
}

// postProduct sends a multipart perfume form with files keyed by filename
func (s *testServer) postProduct(t *testing.T, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "Rose Oud"))
	require.NoError(t, mw.WriteField("price", "42.00"))
	for name, payload := range files {
		fw, err := mw.CreateFormFile("uploaded_images", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(payload))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	token, err := IssueToken(testSecret, 1)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestCreateProductRequiresImages(t *testing.T) {
	s := newTestServer(t)

	w := s.postProduct(t, nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "uploaded_images", decode(t, w)["field"])
}

func TestCreateProductRejectsNonImageUploads(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{"html page", map[string]string{"evil.html": "<html><script>alert(1)</script></html>"}},
		{"html renamed to png", map[string]string{"evil.png": "<html><script>alert(1)</script></html>"}},
		{"empty file", map[string]string{"empty.png": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)

			w := s.postProduct(t, tt.files)

			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, "uploaded_images", decode(t, w)["field"])

			w = s.do(t, http.MethodGet, "/api/v1/products", nil, 0)
			require.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, "[]", w.Body.String())
		})
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
