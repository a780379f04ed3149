package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/algernon-A/TransferController-sub001/internal/persistence/r2s3"
)

// buildMirror returns nil when TC_R2_MIRROR is off.
func buildMirror(ctx context.Context, dataDir string, logger *log.Logger) (*r2s3.Mirror, error) {
	if !envBool("TC_R2_MIRROR", false) {
		return nil, nil
	}

	cfg := r2s3.Config{
		Endpoint:        strings.TrimSpace(os.Getenv("TC_R2_ENDPOINT")),
		Bucket:          strings.TrimSpace(os.Getenv("TC_R2_BUCKET")),
		Region:          strings.TrimSpace(os.Getenv("TC_R2_REGION")),
		AccessKeyID:     strings.TrimSpace(os.Getenv("TC_R2_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("TC_R2_SECRET_ACCESS_KEY")),
		PathStyle:       envBool("TC_R2_PATH_STYLE", false),
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("TC_R2_MIRROR=true but TC_R2_BUCKET is empty")
	}
	client, err := r2s3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return r2s3.NewMirror(client, dataDir, r2s3.MirrorOptions{
		Prefix:        strings.TrimSpace(os.Getenv("TC_R2_PREFIX")),
		Workers:       envInt("TC_R2_UPLOAD_WORKERS", 2),
		QueueCapacity: envInt("TC_R2_QUEUE", 256),
		Logger:        logger,
	}), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
