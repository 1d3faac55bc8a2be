package record

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	cases := []struct {
		in   string
		want Method
		ok   bool
	}{
		{"get", MethodGet, true},
		{"GET", MethodGet, true},
		{" Post ", MethodPost, true},
		{"none", MethodNone, true},
		{"", MethodNone, true},
		{"put", MethodNone, false},
		{"delete", MethodNone, false},
	}
	for _, tc := range cases {
		got, err := ParseMethod(tc.in)
		if !tc.ok {
			require.Error(t, err, tc.in)
			assert.True(t, IsConfig(err), "expected ConfigError for %q", tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestMethodJSON(t *testing.T) {
	b, err := json.Marshal(Target{Method: MethodPost, Endpoint: "http://x/cb"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"POST","endpoint":"http://x/cb"}`, string(b))

	var tg Target
	require.NoError(t, json.Unmarshal([]byte(`{"method":"get","endpoint":"http://y"}`), &tg))
	assert.Equal(t, MethodGet, tg.Method)

	err = json.Unmarshal([]byte(`{"method":"patch"}`), &tg)
	assert.True(t, IsConfig(err))
}

func TestParseTarget(t *testing.T) {
	tg, err := ParseTarget("", "")
	require.NoError(t, err)
	assert.Nil(t, tg)

	tg, err = ParseTarget("post", "http://x/cb")
	require.NoError(t, err)
	assert.Equal(t, &Target{Method: MethodPost, Endpoint: "http://x/cb"}, tg)

	tg, err = ParseTarget("none", "")
	require.NoError(t, err)
	require.NotNil(t, tg)
	assert.False(t, tg.Dispatchable())

	for _, bad := range [][2]string{
		{"", "http://x/cb"},
		{"get", ""},
		{"post", "ftp://x/cb"},
		{"post", "not a url"},
		{"trace", "http://x/cb"},
		{"get", "http:///path-only"},
	} {
		_, err := ParseTarget(bad[0], bad[1])
		assert.Truef(t, IsConfig(err), "expected ConfigError for %v, got %v", bad, err)
	}
}

func TestMergeString(t *testing.T) {
	old := "old"
	empty := ""
	next := "new"
	assert.Nil(t, MergeString(nil, nil))
	assert.Equal(t, "old", *MergeString(nil, &old))
	assert.Equal(t, "old", *MergeString(&empty, &old))
	assert.Equal(t, "new", *MergeString(&next, &old))
	assert.Equal(t, "new", *MergeString(&next, nil))
}

func TestMergeTarget(t *testing.T) {
	a := &Target{Method: MethodPost, Endpoint: "http://a"}
	b := &Target{Method: MethodGet, Endpoint: "http://b"}
	off := &Target{Method: MethodNone}

	assert.Nil(t, MergeTarget(nil, nil))
	assert.Equal(t, a, MergeTarget(nil, a))
	assert.Equal(t, b, MergeTarget(b, a))
	assert.Equal(t, off, MergeTarget(off, a))

	got := MergeTarget(nil, a)
	got.Endpoint = "mutated"
	assert.Equal(t, "http://a", a.Endpoint, "merge must not alias the previous target")
}

func TestReconcileCreate(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r := Reconcile(nil, Write{ID: "k1", State: "running"}, now)
	assert.Equal(t, "k1", r.ID)
	assert.Equal(t, "running", r.State)
	assert.Nil(t, r.Info)
	assert.Nil(t, r.Target)
	assert.Nil(t, r.Response)
	assert.Equal(t, now, r.CreatedAt)
	assert.Equal(t, now, r.UpdatedAt)
}

func TestReconcileUpdate(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	info := "first"
	prev := &Record{
		ID:        "k2",
		State:     "running",
		Info:      &info,
		Target:    &Target{Method: MethodPost, Endpoint: "http://x/cb"},
		Response:  &Response{StatusCode: 200, Body: "ok"},
		CreatedAt: created,
		UpdatedAt: created,
	}
	later := created.Add(time.Minute)
	r := Reconcile(prev, Write{ID: "k2", State: "done"}, later)

	assert.Equal(t, "done", r.State)
	require.NotNil(t, r.Info)
	assert.Equal(t, "first", *r.Info)
	assert.Equal(t, prev.Target, r.Target)
	assert.Equal(t, prev.Response, r.Response)
	assert.Equal(t, created, r.CreatedAt)
	assert.Equal(t, later, r.UpdatedAt)

	// a clock that went backwards never yields UpdatedAt before CreatedAt
	r = Reconcile(prev, Write{ID: "k2", State: "x"}, created.Add(-time.Hour))
	assert.Equal(t, created.Add(time.Millisecond), r.UpdatedAt)
}

func TestReconcileSameMillisecondAdvances(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	first := Reconcile(nil, Write{ID: "k", State: "s"}, now)
	second := Reconcile(&first, Write{ID: "k", State: "s"}, now.Add(300*time.Microsecond))
	third := Reconcile(&second, Write{ID: "k", State: "s"}, now)

	assert.Equal(t, now, second.CreatedAt)
	assert.Equal(t, now.Add(time.Millisecond), second.UpdatedAt)
	assert.Equal(t, now.Add(2*time.Millisecond), third.UpdatedAt)
}

func TestNextUpdate(t *testing.T) {
	prev := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, prev.Add(time.Second), NextUpdate(prev, prev.Add(time.Second)))
	assert.Equal(t, prev.Add(time.Millisecond), NextUpdate(prev, prev))
	assert.Equal(t, prev.Add(time.Millisecond), NextUpdate(prev, prev.Add(-time.Minute)))
}

func TestWriteValidate(t *testing.T) {
	assert.True(t, IsConfig(Write{State: "s"}.Validate()))
	assert.True(t, IsConfig(Write{ID: "k"}.Validate()))
	assert.NoError(t, Write{ID: "k", State: "s"}.Validate())
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("boom")
	se := &StorageError{Op: "lookup", ID: "k", Err: cause}
	de := &DispatchError{ID: "k", Method: MethodGet, Endpoint: "http://x", Err: cause}

	assert.ErrorIs(t, se, cause)
	assert.ErrorIs(t, de, cause)
	assert.True(t, IsStorage(se))
	assert.False(t, IsStorage(de))
	assert.True(t, IsDispatch(de))
	assert.Contains(t, de.Error(), "GET http://x")

	wrapped := &StorageError{Op: "record outcome", ID: "k", Err: ErrNotFound}
	assert.ErrorIs(t, wrapped, ErrNotFound)
}
