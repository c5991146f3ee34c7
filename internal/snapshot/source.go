// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package snapshot encodes and parses the server's startup/PSYNC
// payload: a small binary subset of the RDB format holding string keys
// with optional absolute-expiry milliseconds. Source mirrors a split
// between a local filesystem destination and an S3-compatible one
// (pkg/archive/parquet/target.go), generalized from a write-only target
// to a read/write pair since a snapshot is loaded back as often as it is
// produced.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Source abstracts where the dump file lives: a local directory or an
// S3-compatible bucket, selected by the --dir flag's scheme.
type Source interface {
	// Load reads name's full contents, or returns os.ErrNotExist (or an
	// equivalent "no such key") if absent.
	Load(ctx context.Context, name string) ([]byte, error)
	// Save writes name's full contents, replacing any existing object.
	Save(ctx context.Context, name string, data []byte) error
}

// FileSource reads and writes the dump file from a local directory.
type FileSource struct {
	dir string
}

// NewFileSource returns a Source rooted at dir, creating it if absent.
func NewFileSource(dir string) (*FileSource, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("snapshot: create dir %q: %w", dir, err)
	}
	return &FileSource{dir: dir}, nil
}

func (f *FileSource) Load(_ context.Context, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(f.dir, name))
}

func (f *FileSource) Save(_ context.Context, name string, data []byte) error {
	return os.WriteFile(filepath.Join(f.dir, name), data, 0o640)
}

// S3SourceConfig configures an S3-compatible snapshot source with the
// fields an S3-backed target needs.
type S3SourceConfig struct {
	Endpoint     string
	Bucket       string
	AccessKey    string
	SecretKey    string
	Region       string
	UsePathStyle bool
}

// S3Source reads and writes the dump file to an S3-compatible bucket,
// selected when --dir is given as "s3://bucket[/prefix]".
type S3Source struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Source builds an S3Source from cfg.
func NewS3Source(ctx context.Context, cfg S3SourceConfig) (*S3Source, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("snapshot: S3 source: empty bucket name")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot: S3 source: load AWS config: %w", err)
	}
	opts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}
	return &S3Source{client: s3.NewFromConfig(awsCfg, opts), bucket: cfg.Bucket}, nil
}

func (s *S3Source) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3Source) Load(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: S3 source: get object %q: %w", name, err)
	}
	defer out.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("snapshot: S3 source: read object %q: %w", name, err)
	}
	return buf.Bytes(), nil
}

func (s *S3Source) Save(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("snapshot: S3 source: put object %q: %w", name, err)
	}
	return nil
}

// ParseDir builds the right Source for a --dir value: "s3://bucket/prefix"
// selects S3Source, anything else a local FileSource.
func ParseDir(ctx context.Context, dir string, s3cfg S3SourceConfig) (Source, error) {
	if !strings.HasPrefix(dir, "s3://") {
		return NewFileSource(dir)
	}
	rest := strings.TrimPrefix(dir, "s3://")
	bucket, prefix, _ := strings.Cut(rest, "/")
	cfg := s3cfg
	cfg.Bucket = bucket
	src, err := NewS3Source(ctx, cfg)
	if err != nil {
		return nil, err
	}
	src.prefix = prefix
	return src, nil
}
