package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shpitdev/records-cleaning-pipeline/internal/describe/gemini"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/io/objectstore"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/worker"
)

func loadGeminiConfigFromEnv() gemini.Config {
	return gemini.Config{
		APIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Model:   strings.TrimSpace(os.Getenv("GEMINI_MODEL")),
		BaseURL: strings.TrimSpace(os.Getenv("GEMINI_BASE_URL")),
	}
}

func loadObjectStoreConfigFromEnv() (objectstore.Config, error) {
	useSSL, err := envBool("OBJECT_STORE_USE_SSL")
	if err != nil {
		return objectstore.Config{}, err
	}
	return objectstore.Config{
		Endpoint:  strings.TrimSpace(os.Getenv("OBJECT_STORE_ENDPOINT")),
		AccessKey: strings.TrimSpace(os.Getenv("OBJECT_STORE_ACCESS_KEY")),
		SecretKey: strings.TrimSpace(os.Getenv("OBJECT_STORE_SECRET_KEY")),
		Region:    strings.TrimSpace(os.Getenv("OBJECT_STORE_REGION")),
		UseSSL:    useSSL,
	}, nil
}

func loadWorkerOptionsFromEnv() (worker.Options, error) {
	workers, err := envInt("WORKERS", 4)
	if err != nil {
		return worker.Options{}, err
	}
	maxRetries, err := envInt("MAX_RETRIES", 3)
	if err != nil {
		return worker.Options{}, err
	}
	requestTimeout, err := envDuration("REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return worker.Options{}, err
	}
	rateLimitRPS, err := envFloat("RATE_LIMIT_RPS", 0)
	if err != nil {
		return worker.Options{}, err
	}
	return worker.Options{
		Workers:        workers,
		MaxRetries:     maxRetries,
		RequestTimeout: requestTimeout,
		RateLimitRPS:   rateLimitRPS,
	}, nil
}

func envString(varName, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(varName)); v != "" {
		return v
	}
	return fallback
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envBool(varName string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return false, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
