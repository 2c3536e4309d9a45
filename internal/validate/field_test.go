package validate

import (
	"strings"
	"testing"

	"tidyplan/internal/domain"
)

func taskRef(field string) ref {
	return ref{kind: domain.EntityTask, id: "T1", row: 0, field: field}
}

func TestRequireField(t *testing.T) {
	v := testValidator()
	if fs := v.requireField(taskRef("TaskName"), "Frame assembly"); len(fs) != 0 {
		t.Fatalf("non-empty value flagged: %v", fs)
	}
	for _, val := range []string{"", "   ", "\t"} {
		fs := v.requireField(taskRef("TaskName"), val)
		if len(fs) != 1 || fs[0].Severity != domain.SeverityError {
			t.Fatalf("blank value %q should be one error, got %v", val, fs)
		}
	}
}

func TestIntRangeMessageNamesBounds(t *testing.T) {
	v := testValidator()
	fs := v.intRange(taskRef("Duration"), 12, 1, 10)
	if len(fs) != 1 {
		t.Fatalf("got %v", fs)
	}
	msg := fs[0].Message
	for _, part := range []string{"Duration", "1", "10", "12"} {
		if !strings.Contains(msg, part) {
			t.Fatalf("message %q should mention %q", msg, part)
		}
	}
	if fs := v.intRange(taskRef("Duration"), 1, 1, 10); len(fs) != 0 {
		t.Fatalf("boundary value flagged: %v", fs)
	}
}

func TestStringMax(t *testing.T) {
	v := testValidator()
	if fs := v.stringMax(taskRef("TaskName"), "ok", 5); len(fs) != 0 {
		t.Fatalf("short value flagged: %v", fs)
	}
	if fs := v.stringMax(taskRef("TaskName"), "toolong", 5); len(fs) != 1 {
		t.Fatalf("overlong value not flagged: %v", fs)
	}
}

func TestStringListEmptyEntryAndLength(t *testing.T) {
	v := testValidator()
	fs := v.stringList(taskRef("RequiredSkills"), []string{"a", " ", "b", "c"}, listOpts{MaxLen: 3})
	var emptyEntry, tooLong bool
	for _, f := range fs {
		if strings.Contains(f.Message, "empty entry") {
			emptyEntry = true
		}
		if strings.Contains(f.Message, "exceeding the maximum") {
			tooLong = true
		}
	}
	if !emptyEntry || !tooLong {
		t.Fatalf("want empty-entry and max-length errors, got %v", fs)
	}
}

func TestIntListRangeAndDuplicates(t *testing.T) {
	v := testValidator()
	fs := v.intList(taskRef("PreferredPhases"), []int{1, 1, 99}, listOpts{AllowEmpty: true, Min: 1, Max: 50})
	if got := len(severities(fs, domain.SeverityError)); got != 1 {
		t.Fatalf("want one out-of-range error, got %d: %v", got, fs)
	}
	warns := severities(fs, domain.SeverityWarning)
	if len(warns) != 1 || !warns[0].AutoFixable {
		t.Fatalf("duplicate entries should be one auto-fixable warning, got %v", fs)
	}
}

func TestJSONField(t *testing.T) {
	v := testValidator()
	if fs := v.jsonField(taskRef("AttributesJSON"), `{"a":1}`, 100); len(fs) != 0 {
		t.Fatalf("valid JSON flagged: %v", fs)
	}
	fs := v.jsonField(taskRef("AttributesJSON"), `not json`, 100)
	if len(fs) != 1 || fs[0].Severity != domain.SeverityError {
		t.Fatalf("want exactly one error for invalid JSON, got %v", fs)
	}
	if !strings.Contains(fs[0].Message, "not valid JSON") {
		t.Fatalf("message should name the parse failure: %q", fs[0].Message)
	}
}
