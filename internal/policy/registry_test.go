package policy

import (
	"reflect"
	"testing"
)

func TestBuiltinPoliciesRegistered(t *testing.T) {
	keys := Keys()
	want := []string{"current-only", "prefixed-stale", "retain-all"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("unexpected policy keys: %v", keys)
	}
	if _, ok := Resolve(" Retain-All "); !ok {
		t.Fatalf("resolve should normalize key")
	}
}

func TestRegisterRejectsDuplicateAndEmpty(t *testing.T) {
	r := newRegistry()
	keep := func(string, string, string) bool { return true }
	if err := r.register(Policy{Key: "a", Keep: keep}); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := r.register(Policy{Key: "A", Keep: keep}); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if err := r.register(Policy{Key: " ", Keep: keep}); err == nil {
		t.Fatalf("expected empty key error")
	}
	if err := r.register(Policy{Key: "b"}); err == nil {
		t.Fatalf("expected missing keep func error")
	}
}

func TestPartitionPolicies(t *testing.T) {
	names := []string{"FoodFest-version_01", "FoodFest-version_02", "other-app-cache", "legacy-FoodFest-version_00"}
	const (
		prefix  = "FoodFest-"
		current = "FoodFest-version_02"
	)

	testCases := []struct {
		key      string
		wantKeep []string
		wantDrop []string
	}{
		{
			// 已知问题：默认策略不删除任何缓存代，旧版本 FoodFest-version_01 仍被保留。
			key:      "retain-all",
			wantKeep: names,
			wantDrop: nil,
		},
		{
			key:      "current-only",
			wantKeep: []string{"FoodFest-version_02"},
			wantDrop: []string{"FoodFest-version_01", "other-app-cache", "legacy-FoodFest-version_00"},
		},
		{
			key:      "prefixed-stale",
			wantKeep: []string{"FoodFest-version_02", "other-app-cache", "legacy-FoodFest-version_00"},
			wantDrop: []string{"FoodFest-version_01"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.key, func(t *testing.T) {
			p, ok := Resolve(tc.key)
			if !ok {
				t.Fatalf("policy %s not registered", tc.key)
			}
			keep, drop := Partition(p, names, prefix, current)
			if !reflect.DeepEqual(keep, tc.wantKeep) {
				t.Fatalf("keep mismatch: %v", keep)
			}
			if !reflect.DeepEqual(drop, tc.wantDrop) {
				t.Fatalf("drop mismatch: %v", drop)
			}
		})
	}
}

func TestPartitionEmpty(t *testing.T) {
	p, _ := Resolve(DefaultKey())
	keep, drop := Partition(p, nil, "FoodFest-", "FoodFest-version_01")
	if len(keep) != 0 || len(drop) != 0 {
		t.Fatalf("empty input should produce empty partitions: %v %v", keep, drop)
	}
}
