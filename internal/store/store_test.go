package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestMemStoreRoundTrip(t *testing.T) {
	t.Parallel()

	m := NewMem()
	ctx := context.Background()

	if err := m.Put(ctx, "incoming/msg-1", []byte("raw message")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	body, err := m.Get(ctx, "incoming/msg-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(body) != "raw message" {
		t.Errorf("body: got %q, want %q", body, "raw message")
	}

	if _, err := m.Get(ctx, "incoming/missing"); err == nil {
		t.Error("expected error for missing object")
	}
}

func TestMemStoreListOrderAndPrefix(t *testing.T) {
	t.Parallel()

	m := NewMem()
	ctx := context.Background()

	for _, key := range []string{"incoming/b", "incoming/a", "sent/c"} {
		if err := m.Put(ctx, key, []byte("x")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	objects, err := m.List(ctx, "incoming/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("got %d objects, want 2", len(objects))
	}
	if objects[0].Key != "incoming/a" || objects[1].Key != "incoming/b" {
		t.Errorf("listing order: got %q then %q", objects[0].Key, objects[1].Key)
	}
	if objects[0].Size != 1 {
		t.Errorf("size: got %d, want 1", objects[0].Size)
	}
}

// mockS3 implements S3API for testing, serving objects from a map and
// paginating listings one key at a time.
type mockS3 struct {
	objects map[string][]byte
	keys    []string
	getErr  error
}

func (m *mockS3) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	start := 0
	if params.ContinuationToken != nil {
		for i, k := range m.keys {
			if k == *params.ContinuationToken {
				start = i
				break
			}
		}
	}
	if start >= len(m.keys) {
		return &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}, nil
	}

	key := m.keys[start]
	out := &s3.ListObjectsV2Output{
		Contents: []types.Object{{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(m.objects[key]))),
			LastModified: aws.Time(time.Unix(1700000000, 0)),
		}},
	}
	if start+1 < len(m.keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(m.keys[start+1])
	} else {
		out.IsTruncated = aws.Bool(false)
	}
	return out, nil
}

func (m *mockS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	body, ok := m.objects[*params.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (m *mockS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.objects[*params.Key] = body
	m.keys = append(m.keys, *params.Key)
	return &s3.PutObjectOutput{}, nil
}

func TestS3StoreListFollowsPagination(t *testing.T) {
	t.Parallel()

	mock := &mockS3{
		objects: map[string][]byte{
			"incoming/1": []byte("one"),
			"incoming/2": []byte("two"),
			"incoming/3": []byte("three"),
		},
		keys: []string{"incoming/1", "incoming/2", "incoming/3"},
	}
	s := NewS3WithClient("bucket", mock)

	objects, err := s.List(context.Background(), "incoming/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(objects) != 3 {
		t.Fatalf("got %d objects, want 3", len(objects))
	}
	if objects[2].Key != "incoming/3" {
		t.Errorf("last key: got %q, want %q", objects[2].Key, "incoming/3")
	}
}

func TestS3StoreGetAndPut(t *testing.T) {
	t.Parallel()

	mock := &mockS3{objects: map[string][]byte{}}
	s := NewS3WithClient("bucket", mock)
	ctx := context.Background()

	if err := s.Put(ctx, "incoming/new", []byte("hello")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	body, err := s.Get(ctx, "incoming/new")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(body) != "hello" {
		t.Errorf("body: got %q, want %q", body, "hello")
	}
}

func TestS3StoreGetError(t *testing.T) {
	t.Parallel()

	mock := &mockS3{objects: map[string][]byte{}, getErr: errors.New("boom")}
	s := NewS3WithClient("bucket", mock)

	if _, err := s.Get(context.Background(), "incoming/x"); err == nil {
		t.Error("expected wrapped error from client failure")
	}
}
