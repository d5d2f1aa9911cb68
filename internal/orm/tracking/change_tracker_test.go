package tracking

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/conduit-lang/deltapatch/internal/orm/schema"
	"github.com/google/uuid"
)

func TestNewChangeTracker(t *testing.T) {
	original := schema.Record{
		"Id":    int64(1),
		"Title": "Original Title",
		"Count": int64(10),
	}

	current := schema.Record{
		"Id":    int64(1),
		"Title": "Updated Title",
		"Count": int64(10),
	}

	ct := NewChangeTracker(original, current)

	if ct == nil {
		t.Fatal("NewChangeTracker returned nil")
	}

	if !ct.Changed("Title") {
		t.Error("Expected Title to be changed")
	}

	if ct.Changed("Count") {
		t.Error("Expected Count to be unchanged")
	}

	if ct.Changed("Id") {
		t.Error("Expected Id to be unchanged")
	}
}

func TestChangeTracker_Changed(t *testing.T) {
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	id := uuid.New()

	tests := []struct {
		name     string
		original schema.Record
		current  schema.Record
		field    string
		want     bool
	}{
		{
			name:     "unchanged field",
			original: schema.Record{"f": "value"},
			current:  schema.Record{"f": "value"},
			field:    "f",
			want:     false,
		},
		{
			name:     "changed string field",
			original: schema.Record{"f": "old"},
			current:  schema.Record{"f": "new"},
			field:    "f",
			want:     true,
		},
		{
			name:     "same instant in another zone",
			original: schema.Record{"f": ts},
			current:  schema.Record{"f": ts.In(time.FixedZone("x", 7200))},
			field:    "f",
			want:     false,
		},
		{
			name:     "uuid unchanged",
			original: schema.Record{"f": id},
			current:  schema.Record{"f": id},
			field:    "f",
			want:     false,
		},
		{
			name:     "nil to value",
			original: schema.Record{"f": nil},
			current:  schema.Record{"f": int64(1)},
			field:    "f",
			want:     true,
		},
		{
			name:     "new field",
			original: schema.Record{},
			current:  schema.Record{"f": "x"},
			field:    "f",
			want:     true,
		},
		{
			name:     "removed field",
			original: schema.Record{"f": "x"},
			current:  schema.Record{},
			field:    "f",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct := NewChangeTracker(tt.original, tt.current)
			if got := ct.Changed(tt.field); got != tt.want {
				t.Errorf("Changed(%q) = %v, want %v", tt.field, got, tt.want)
			}
		})
	}
}

func TestChangeTracker_ChangedIn(t *testing.T) {
	ct := NewChangeTracker(
		schema.Record{"A": 1, "B": 2, "C": 3, "Z": 1},
		schema.Record{"A": 9, "B": 2, "C": 8, "Z": 2},
	)

	got := ct.ChangedIn([]string{"C", "B", "A"})
	want := []string{"C", "A", "Z"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ChangedIn() = %v, want %v", got, want)
	}

	if !reflect.DeepEqual(ct.ChangedFields(), []string{"A", "C", "Z"}) {
		t.Errorf("ChangedFields() = %v", ct.ChangedFields())
	}
}

func TestChangeTracker_SetFieldValue(t *testing.T) {
	ct := NewChangeTracker(schema.Record{"Title": "a"}, schema.Record{"Title": "a"})
	if ct.HasChanges() {
		t.Fatal("Expected no changes")
	}

	ct.SetFieldValue("Title", "b")
	if !ct.Changed("Title") {
		t.Error("Expected Title to be changed")
	}
	if change := ct.GetChange("Title"); change.OldValue != "a" || change.NewValue != "b" {
		t.Errorf("unexpected change: %+v", change)
	}

	ct.SetFieldValue("Title", "a")
	if ct.Changed("Title") {
		t.Error("Expected revert to clear the change")
	}
}

func TestChangeTracker_ResetAndData(t *testing.T) {
	ct := NewChangeTracker(schema.Record{"A": 1, "B": 2}, schema.Record{"A": 1, "B": 3})

	data := ct.GetChangedData()
	if len(data) != 1 || data["B"] != 3 {
		t.Errorf("GetChangedData() = %v", data)
	}
	if ct.PreviousValue("B") != 2 || ct.CurrentValue("B") != 3 {
		t.Error("unexpected previous/current values")
	}

	ct.Reset()
	if ct.HasChanges() {
		t.Error("Expected no changes after Reset")
	}
}

func TestChangeTracker_Isolation(t *testing.T) {
	original := schema.Record{"A": 1}
	current := schema.Record{"A": 2}
	ct := NewChangeTracker(original, current)

	current["A"] = 1
	if !ct.Changed("A") {
		t.Error("tracker must not observe later mutations of its inputs")
	}
}

func TestChangeTracker_Concurrent(t *testing.T) {
	ct := NewChangeTracker(schema.Record{"A": 0}, schema.Record{"A": 0})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			ct.SetFieldValue("A", i)
		}(i)
		go func() {
			defer wg.Done()
			_ = ct.ChangedFields()
		}()
	}
	wg.Wait()
}
