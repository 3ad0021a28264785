package targetapp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestFib(t *testing.T) {
	want := []int64{0, 1, 1, 2, 3, 5, 8, 13, 21, 34, 55}
	for n, v := range want {
		assert.Equal(t, v, fib(n), "fib(%d)", n)
	}
}

func TestBubbleSort(t *testing.T) {
	arr := []int{5, 4, 3, 2, 1, 9, 0}
	bubbleSort(arr)
	assert.True(t, sort.IntsAreSorted(arr))
}

func TestServer_Index(t *testing.T) {
	rec := get(t, New(DefaultConfig()).Handler(), "/")

	require.Equal(t, http.StatusOK, rec.Code)
	var body indexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Endpoints, 3)
}

func TestServer_FibonacciInProcess(t *testing.T) {
	h := New(DefaultConfig()).Handler()

	for _, url := range []string{"/fibonacci/12", "/fibonacci?n=12"} {
		t.Run(url, func(t *testing.T) {
			rec := get(t, h, url)

			require.Equal(t, http.StatusOK, rec.Code)
			var body FibonacciResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, int64(144), body.Fibonacci)
			assert.False(t, body.End.Before(body.Start))
		})
	}
}

func TestServer_FibonacciFanOut(t *testing.T) {
	// Arrange: the service URL points back at the same app
	var app http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.ServeHTTP(w, r)
	}))
	defer ts.Close()
	cfg := DefaultConfig()
	cfg.ServiceURL = ts.URL + "/"
	app = New(cfg).Handler()

	// Act
	resp, err := http.Get(ts.URL + "/fibonacci/10")
	require.NoError(t, err)
	defer resp.Body.Close()

	// Assert
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body FibonacciResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(55), body.Fibonacci)
}

func TestServer_FibonacciFanOutFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServiceURL = "http://127.0.0.1:1"

	rec := get(t, New(cfg).Handler(), "/fibonacci/5")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServer_BubbleSort(t *testing.T) {
	rec := get(t, New(DefaultConfig()).Handler(), "/bubble-sort?n=1024")

	require.Equal(t, http.StatusOK, rec.Code)
	var body SortResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Start.IsZero())
	assert.False(t, body.End.Before(body.Start))
}

func TestServer_BadInput(t *testing.T) {
	h := New(Config{MaxFibonacci: 30, MaxBubbleSort: 100}).Handler()

	tests := []string{
		"/fibonacci/abc",
		"/fibonacci/31",
		"/fibonacci/-1",
		"/fibonacci",
		"/bubble-sort",
		"/bubble-sort?n=101",
	}
	for _, url := range tests {
		t.Run(url, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, get(t, h, url).Code)
		})
	}
}
