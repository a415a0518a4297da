package objstore

import (
	"testing"
)

func TestParseConnStringS3(t *testing.T) {
	cs, err := ParseConnString("s3://AKIA:se%2Fcret@my-bucket/data/prod?region=eu-west-1&endpoint=http://localhost:9000&forcePathStyle=true")
	if err != nil {
		t.Fatal(err)
	}
	if cs.Scheme != "s3" || cs.Bucket != "my-bucket" {
		t.Errorf("scheme/bucket: %+v", cs)
	}
	if cs.AccessKey != "AKIA" {
		t.Errorf("access key = %q", cs.AccessKey)
	}
	if cs.SecretKey != "se/cret" {
		t.Errorf("secret key not url-decoded: %q", cs.SecretKey)
	}
	if cs.Prefix != "data/prod" {
		t.Errorf("prefix = %q", cs.Prefix)
	}
	if cs.Region != "eu-west-1" || cs.Endpoint != "http://localhost:9000" || !cs.ForcePathStyle {
		t.Errorf("query options: %+v", cs)
	}
}

func TestParseConnStringS3Defaults(t *testing.T) {
	cs, err := ParseConnString("s3://a:b@bucket")
	if err != nil {
		t.Fatal(err)
	}
	if cs.Region != "us-east-1" {
		t.Errorf("default region = %q", cs.Region)
	}
	if cs.Prefix != "" || cs.ForcePathStyle {
		t.Errorf("%+v", cs)
	}
}

func TestParseConnStringFile(t *testing.T) {
	cs, err := ParseConnString("file:///var/lib/strata")
	if err != nil {
		t.Fatal(err)
	}
	if cs.Path != "/var/lib/strata" {
		t.Errorf("path = %q", cs.Path)
	}
}

func TestParseConnStringMemory(t *testing.T) {
	cs, err := ParseConnString("memory://")
	if err != nil {
		t.Fatal(err)
	}
	if cs.Scheme != "memory" {
		t.Errorf("%+v", cs)
	}
}

func TestParseConnStringErrors(t *testing.T) {
	for _, raw := range []string{"s3://", "mysql://host/db", "file://"} {
		if _, err := ParseConnString(raw); err == nil {
			t.Errorf("ParseConnString(%q) should fail", raw)
		}
	}
}

func TestKeys(t *testing.T) {
	if got := PrimaryKey("users", "u 1/x"); got != "resource=users/id=u%201%2Fx" {
		t.Errorf("PrimaryKey = %q", got)
	}
	if got := IDFromKey("resource=users/id=u%201%2Fx"); got != "u 1/x" {
		t.Errorf("IDFromKey = %q", got)
	}
	key := PartitionKey("orders", "byStatus", []string{"status=paid"}, "o1")
	if key != "resource=orders/partition=byStatus/status=paid/id=o1" {
		t.Errorf("PartitionKey = %q", key)
	}
	if got := IDFromKey(key); got != "o1" {
		t.Errorf("IDFromKey(partition) = %q", got)
	}
	if got := LockKey("orders:o1:amount"); got != "locks/orders:o1:amount" {
		t.Errorf("LockKey = %q", got)
	}
	if IDFromKey("resource=users/") != "" {
		t.Error("key without id should yield empty string")
	}
}
