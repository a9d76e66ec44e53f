package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/GoCodeAlone/stack-discovery/entity"
)

const testLocation = "aws-cloudformation"

func ent(name, typ string) entity.Entity {
	return entity.Entity{
		APIVersion: entity.APIVersion,
		Kind:       entity.KindResource,
		Metadata:   entity.Metadata{Name: name},
		Spec:       entity.Spec{Type: typ, Lifecycle: "production", Owner: "unknown"},
	}
}

func snapshot(complete bool, names ...string) *entity.Snapshot {
	s := &entity.Snapshot{Complete: complete}
	for _, n := range names {
		s.Entities = append(s.Entities, ent(n, entity.TypeStack))
	}
	return s
}

func names(ents []entity.Entity) []string {
	var out []string
	for _, e := range ents {
		out = append(out, e.Metadata.Name)
	}
	return out
}

func TestEmitRefusesIncompleteSnapshot(t *testing.T) {
	sink := NewMemorySink()
	em := NewEmitter(sink, testLocation, nil)

	if err := em.Emit(context.Background(), snapshot(false, "a")); !errors.Is(err, ErrIncompleteSnapshot) {
		t.Fatalf("expected ErrIncompleteSnapshot, got %v", err)
	}
	if err := em.Emit(context.Background(), nil); !errors.Is(err, ErrIncompleteSnapshot) {
		t.Fatalf("expected ErrIncompleteSnapshot for nil, got %v", err)
	}
	if sink.Applied() != 0 {
		t.Error("nothing may reach the sink")
	}
}

func TestEmitDeletionByOmission(t *testing.T) {
	sink := NewMemorySink()
	em := NewEmitter(sink, testLocation, nil)
	ctx := context.Background()

	if err := em.Emit(ctx, snapshot(true, "fn-a", "fn-b", "stack-x")); err != nil {
		t.Fatalf("first emit: %v", err)
	}
	if got := names(sink.Entities(testLocation)); !slices.Equal(got, []string{"fn-a", "fn-b", "stack-x"}) {
		t.Fatalf("after first cycle: %v", got)
	}

	// stack-x was deleted between cycles
	if err := em.Emit(ctx, snapshot(true, "fn-a", "fn-b")); err != nil {
		t.Fatalf("second emit: %v", err)
	}
	if got := names(sink.Entities(testLocation)); !slices.Equal(got, []string{"fn-a", "fn-b"}) {
		t.Errorf("after second cycle: %v", got)
	}
	if got := sink.Removed(testLocation); !slices.Equal(got, []string{"stack-x"}) {
		t.Errorf("removed = %v", got)
	}
	if _, ok := sink.Get(testLocation, "stack-x"); ok {
		t.Error("stack-x should be gone")
	}
}

func TestEmitEmptySnapshotClearsLocation(t *testing.T) {
	sink := NewMemorySink()
	em := NewEmitter(sink, testLocation, nil)
	ctx := context.Background()

	_ = em.Emit(ctx, snapshot(true, "a"))
	if err := em.Emit(ctx, snapshot(true)); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(sink.Entities(testLocation)) != 0 {
		t.Error("an empty complete snapshot must clear the location")
	}
}

func TestMemorySinkIsolatesLocations(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()
	_ = sink.ApplyMutation(ctx, &Mutation{Type: MutationFull, LocationKey: "one", Entities: []entity.Entity{ent("a", entity.TypeStack)}})
	_ = sink.ApplyMutation(ctx, &Mutation{Type: MutationFull, LocationKey: "two", Entities: []entity.Entity{ent("b", entity.TypeStack)}})

	if got := names(sink.Entities("one")); !slices.Equal(got, []string{"a"}) {
		t.Errorf("location one = %v", got)
	}
	if err := sink.ApplyMutation(ctx, &Mutation{Type: "delta", LocationKey: "one"}); err == nil {
		t.Error("expected unsupported mutation type error")
	}
}

type failingSink struct{ err error }

func (f failingSink) ApplyMutation(context.Context, *Mutation) error { return f.err }

func TestEmitWrapsSinkError(t *testing.T) {
	boom := errors.New("boom")
	err := NewEmitter(failingSink{err: boom}, testLocation, nil).Emit(context.Background(), snapshot(true, "a"))
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped sink error, got %v", err)
	}
}

func TestHTTPSinkPostsMutation(t *testing.T) {
	var got Mutation
	var contentType, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		contentType = r.Header.Get("Content-Type")
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(HTTPSinkConfig{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer token"}})
	if err != nil {
		t.Fatalf("NewHTTPSink: %v", err)
	}
	em := NewEmitter(sink, testLocation, nil)
	if err := em.Emit(context.Background(), snapshot(true, "a", "b")); err != nil {
		t.Fatalf("emit: %v", err)
	}

	if contentType != "application/json" || auth != "Bearer token" {
		t.Errorf("headers: content-type=%q auth=%q", contentType, auth)
	}
	if got.Type != "full" || got.LocationKey != testLocation || !slices.Equal(names(got.Entities), []string{"a", "b"}) {
		t.Errorf("unexpected mutation %+v", got)
	}
}

func TestHTTPSinkWireFormat(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
	}))
	defer srv.Close()

	sink, _ := NewHTTPSink(HTTPSinkConfig{URL: srv.URL})
	if err := NewEmitter(sink, testLocation, nil).Emit(context.Background(), snapshot(true)); err != nil {
		t.Fatalf("emit: %v", err)
	}
	ents, ok := raw["entities"].([]any)
	if !ok || len(ents) != 0 {
		t.Errorf("entities must be an empty array, got %#v", raw["entities"])
	}
	if raw["type"] != "full" || raw["locationKey"] != testLocation {
		t.Errorf("unexpected payload %v", raw)
	}
}

func TestHTTPSinkRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, _ := NewHTTPSink(HTTPSinkConfig{URL: srv.URL, MaxAttempts: 3, Backoff: time.Millisecond})
	if err := sink.ApplyMutation(context.Background(), &Mutation{Type: MutationFull, LocationKey: testLocation}); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d", calls.Load())
	}
}

func TestHTTPSinkDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad entity", http.StatusBadRequest)
	}))
	defer srv.Close()

	sink, _ := NewHTTPSink(HTTPSinkConfig{URL: srv.URL, MaxAttempts: 5, Backoff: time.Millisecond})
	err := sink.ApplyMutation(context.Background(), &Mutation{Type: MutationFull, LocationKey: testLocation})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected StatusError 400, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("client errors must not be retried, got %d calls", calls.Load())
	}
}

func TestNewHTTPSinkRequiresURL(t *testing.T) {
	if _, err := NewHTTPSink(HTTPSinkConfig{}); err == nil {
		t.Error("expected error for missing url")
	}
}

type mockS3Client struct {
	puts []*s3.PutObjectInput
	body []byte
	err  error
}

func (m *mockS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.puts = append(m.puts, params)
	m.body, _ = io.ReadAll(params.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3SinkPutsMutation(t *testing.T) {
	client := &mockS3Client{}
	sink := NewS3Sink(client, "catalog-bucket", "discovery")
	if err := NewEmitter(sink, testLocation, nil).Emit(context.Background(), snapshot(true, "a")); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(client.puts) != 1 {
		t.Fatalf("expected 1 put, got %d", len(client.puts))
	}
	in := client.puts[0]
	if aws.ToString(in.Bucket) != "catalog-bucket" || aws.ToString(in.Key) != "discovery/aws-cloudformation.json" {
		t.Errorf("bucket/key = %s/%s", aws.ToString(in.Bucket), aws.ToString(in.Key))
	}
	var m Mutation
	if err := json.Unmarshal(client.body, &m); err != nil || len(m.Entities) != 1 {
		t.Errorf("unexpected body %s (%v)", client.body, err)
	}
}

func TestS3SinkError(t *testing.T) {
	sink := NewS3Sink(&mockS3Client{err: errors.New("access denied")}, "b", "")
	if err := sink.ApplyMutation(context.Background(), &Mutation{Type: MutationFull, LocationKey: "k"}); err == nil {
		t.Error("expected error")
	}
	if got := sink.Key("k"); got != "k.json" {
		t.Errorf("key without prefix = %q", got)
	}
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriterSink(&buf).ApplyMutation(context.Background(), &Mutation{Type: MutationFull, LocationKey: testLocation, Entities: []entity.Entity{ent("a", entity.TypeRuntime)}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	var m Mutation
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("output is not json: %v", err)
	}
	if m.Entities[0].Spec.Type != entity.TypeRuntime {
		t.Errorf("unexpected output %s", buf.String())
	}
}
