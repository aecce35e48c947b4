package aws

import (
	"context"
	"testing"
)

func TestLoadAWSConfig_DefaultRegion(t *testing.T) {
	cfg, err := LoadAWSConfig(context.Background(), "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Region != "us-east-1" {
		t.Fatalf("expected default region 'us-east-1', got %s", cfg.Region)
	}
}

func TestLoadAWSConfig_WithEndpointOverride(t *testing.T) {
	cfg, err := LoadAWSConfig(context.Background(), "eu-central-1", "http://localhost:4566")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Region != "eu-central-1" {
		t.Fatalf("region mismatch, got %s", cfg.Region)
	}
	if cfg.BaseEndpoint == nil || *cfg.BaseEndpoint != "http://localhost:4566" {
		t.Fatalf("expected base endpoint override, got %v", cfg.BaseEndpoint)
	}
}

func TestNewAWSClients_RecordsTarget(t *testing.T) {
	clients, err := NewAWSClients(context.Background(), " eu-central-1 ", "http://localhost:4566")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clients.Region != "eu-central-1" || clients.Endpoint != "http://localhost:4566" || !clients.Local() {
		t.Fatalf("unexpected target: region=%q endpoint=%q", clients.Region, clients.Endpoint)
	}
	if clients.DynamoDB == nil || clients.SQS == nil || clients.CloudWatch == nil {
		t.Fatalf("expected every client to be built")
	}

	remote, err := NewAWSClients(context.Background(), "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remote.Local() || remote.Region != defaultRegion {
		t.Fatalf("unexpected target: region=%q endpoint=%q", remote.Region, remote.Endpoint)
	}
}
