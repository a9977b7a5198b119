package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/meetsmatch/roommates/internal/cache"
)

// MockCache is a mock implementation of interfaces.Cache
type MockCache struct {
	mock.Mock
}

func (m *MockCache) SetCache(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	args := m.Called(ctx, key, data, ttl)
	return args.Error(0)
}

func (m *MockCache) GetCache(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}

func (m *MockCache) DeleteCache(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func newCacheRouter(mw *CacheMiddleware, calls *int, status int) *gin.Engine {
	r := gin.New()
	r.Use(ErrorHandler(), mw.Handler())
	handler := func(c *gin.Context) {
		*calls++
		c.JSON(status, gin.H{"score": 87})
	}
	r.GET("/api/v1/compatibility", handler)
	r.GET("/api/v1/admin/compatibility", handler)
	return r
}

func TestCacheMiddleware_MissThenStore(t *testing.T) {
	c := new(MockCache)
	mw := NewCacheMiddleware(c, CacheConfig{Enabled: true, TTL: time.Minute})
	calls := 0
	r := newCacheRouter(mw, &calls, http.StatusOK)

	var stored CachedResponse
	c.On("GetCache", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(cache.ErrCacheMiss).Once()
	c.On("SetCache", mock.Anything, mock.AnythingOfType("string"), mock.Anything, time.Minute).
		Run(func(args mock.Arguments) { stored = args.Get(2).(CachedResponse) }).
		Return(nil).Once()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/compatibility?a=1&b=2", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get(CacheHeader))
	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusOK, stored.Status)
	assert.JSONEq(t, `{"score": 87}`, string(stored.Body))
	assert.Contains(t, stored.ContentType, "application/json")
	c.AssertExpectations(t)
}

func TestCacheMiddleware_Hit(t *testing.T) {
	c := new(MockCache)
	mw := NewCacheMiddleware(c, CacheConfig{Enabled: true})
	calls := 0
	r := newCacheRouter(mw, &calls, http.StatusOK)

	c.On("GetCache", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			*(args.Get(2).(*CachedResponse)) = CachedResponse{
				Status:      http.StatusOK,
				ContentType: "application/json; charset=utf-8",
				Body:        []byte(`{"score": 55}`),
			}
		}).Return(nil).Once()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/compatibility?a=1&b=2", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get(CacheHeader))
	assert.JSONEq(t, `{"score": 55}`, w.Body.String())
	assert.Equal(t, 0, calls)
}

func TestCacheMiddleware_DoesNotStoreFailures(t *testing.T) {
	c := new(MockCache)
	mw := NewCacheMiddleware(c, CacheConfig{Enabled: true})
	calls := 0
	r := newCacheRouter(mw, &calls, http.StatusNotFound)

	c.On("GetCache", mock.Anything, mock.Anything, mock.Anything).Return(cache.ErrCacheMiss)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/compatibility?a=1&b=zzz", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	c.AssertNotCalled(t, "SetCache", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCacheMiddleware_Bypass(t *testing.T) {
	c := new(MockCache)
	calls := 0

	disabled := newCacheRouter(NewCacheMiddleware(c, CacheConfig{Enabled: false}), &calls, http.StatusOK)
	w := httptest.NewRecorder()
	disabled.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/compatibility", nil))
	assert.Empty(t, w.Header().Get(CacheHeader))

	skipped := newCacheRouter(NewCacheMiddleware(c, CacheConfig{Enabled: true, SkipPatterns: []string{"/admin/"}}), &calls, http.StatusOK)
	w = httptest.NewRecorder()
	skipped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/admin/compatibility", nil))
	assert.Empty(t, w.Header().Get(CacheHeader))

	noCache := newCacheRouter(NewCacheMiddleware(nil, CacheConfig{Enabled: true}), &calls, http.StatusOK)
	w = httptest.NewRecorder()
	noCache.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/compatibility", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 3, calls)
	c.AssertNotCalled(t, "GetCache", mock.Anything, mock.Anything, mock.Anything)
}

func TestCacheMiddleware_GenerateCacheKey(t *testing.T) {
	mw := NewCacheMiddleware(nil, CacheConfig{})
	key := func(target, actor string) string {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, target, nil)
		if actor != "" {
			c.Set(ActorKey, actor)
		}
		return mw.generateCacheKey(c)
	}

	k1 := key("/api/v1/compatibility?a=1&b=2", "p1")
	require.Contains(t, k1, "http_response:")
	assert.Equal(t, k1, key("/api/v1/compatibility?b=2&a=1", "p1"))
	assert.NotEqual(t, k1, key("/api/v1/compatibility?a=1&b=3", "p1"))
	assert.NotEqual(t, k1, key("/api/v1/compatibility?a=1&b=2", "p2"))
}
