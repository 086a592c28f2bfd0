package utils

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	objects map[string][]byte
	lastKey string
}

func (f *fakeGetter) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.lastKey = aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	body, ok := f.objects[f.lastKey]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func TestR2ObjectFetch(t *testing.T) {
	getter := &fakeGetter{objects: map[string][]byte{"content/catalog.json": []byte(`{"courses":[]}`)}}
	obj := &R2Object{Client: getter, Bucket: "content", Key: "catalog.json"}

	body, err := obj.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"courses":[]}`, string(body))
	assert.Equal(t, "r2://content/catalog.json", obj.String())

	missing := &R2Object{Client: getter, Bucket: "content", Key: "nope.json"}
	_, err = missing.Fetch(context.Background())
	assert.ErrorContains(t, err, "r2://content/nope.json")
}

func TestLocalFileFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"courses":[]}`), 0o600))

	body, err := (&LocalFile{Path: path}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"courses":[]}`, string(body))

	_, err = (&LocalFile{Path: filepath.Join(t.TempDir(), "missing.json")}).Fetch(context.Background())
	assert.Error(t, err)
}
