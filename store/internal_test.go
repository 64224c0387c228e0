package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// --- Value Term Tests ---

func TestValueTerm_String(t *testing.T) {
	if got := String("red").term(); got != "s:red" {
		t.Errorf("expected %q, got %q", "s:red", got)
	}
}

func TestValueTerm_StringEmpty(t *testing.T) {
	if got := String("").term(); got != "s:" {
		t.Errorf("expected %q, got %q", "s:", got)
	}
}

func TestValueTerm_Number(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1, "n:1"},
		{100, "n:100"},
		{-2.5, "n:-2.5"},
		{0, "n:0"},
	}
	for _, tt := range tests {
		if got := Number(tt.in).term(); got != tt.want {
			t.Errorf("Number(%v).term(): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestValueTerm_Bool(t *testing.T) {
	if got := Bool(true).term(); got != "b:true" {
		t.Errorf("expected %q, got %q", "b:true", got)
	}
	if got := Bool(false).term(); got != "b:false" {
		t.Errorf("expected %q, got %q", "b:false", got)
	}
}

func TestValueTerm_UnsetIsNeverStored(t *testing.T) {
	if got := Unset().term(); got != "" {
		t.Errorf("unset must have no stored form, got %q", got)
	}
}

// --- Decode Tests ---

func TestDecodeValue_RoundTrip(t *testing.T) {
	values := []Value{
		String("red"),
		String(""),
		String("colons:inside:payload"),
		String("日本語"),
		Number(0),
		Number(-17.25),
		Number(1e300),
		Bool(true),
		Bool(false),
	}

	for _, want := range values {
		got, err := decodeValue(want.term())
		if err != nil {
			t.Fatalf("decode %q: %v", want.term(), err)
		}
		if !got.Equal(want) {
			t.Errorf("round trip of %s: got %s", want, got)
		}
	}
}

func TestDecodeValue_Malformed(t *testing.T) {
	terms := []string{
		"",
		"s",
		"red",
		"x:red",
		"n:not-a-number",
		"n:",
		"b:yes",
		"b:",
		"S:red",
	}

	for _, term := range terms {
		if _, err := decodeValue(term); err == nil {
			t.Errorf("expected error for %q, got nil", term)
		}
	}
}

func TestDecodeAttrs_NamesBadAttribute(t *testing.T) {
	_, err := decodeAttrs(map[string]string{"good": "s:x", "bad": "junk"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), `attribute "bad"`) {
		t.Errorf("error should name the attribute: %q", err.Error())
	}
}

func TestDecodeAttrs_Empty(t *testing.T) {
	attrs, err := decodeAttrs(nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if attrs == nil || len(attrs) != 0 {
		t.Errorf("expected empty non-nil map, got %v", attrs)
	}
}

func TestEncodeAttrs(t *testing.T) {
	fields := encodeAttrs(Attributes{
		"name":   String("a"),
		"count":  Number(2),
		"active": Bool(false),
	})

	want := map[string]string{
		"name":   "s:a",
		"count":  "n:2",
		"active": "b:false",
	}
	if len(fields) != len(want) {
		t.Fatalf("expected %d fields, got %d", len(want), len(fields))
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %q: expected %q, got %q", k, v, fields[k])
		}
	}
}

// --- Validation Tests ---

func TestValidateAttrs_ReservedNames(t *testing.T) {
	for _, name := range []string{"id", "parent"} {
		err := validateAttrs(Attributes{name: String("x")}, false)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError for %q, got %v", name, err)
		}
		if ve.Field != name {
			t.Errorf("expected field %q, got %q", name, ve.Field)
		}
	}
}

func TestValidateAttrs_BadName(t *testing.T) {
	for _, name := range []string{"", "a:b"} {
		if err := validateAttrs(Attributes{name: String("x")}, false); err == nil {
			t.Errorf("expected error for name %q", name)
		}
	}
}

func TestValidateAttrs_NonFiniteNumbers(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if err := validateAttrs(Attributes{"n": Number(f)}, true); err == nil {
			t.Errorf("expected error for %v", f)
		}
	}
}

func TestValidateAttrs_ZeroValue(t *testing.T) {
	if err := validateAttrs(Attributes{"v": {}}, true); err == nil {
		t.Error("expected error for zero Value")
	}
}

func TestValidateAttrs_UnsetOnlyWhereAllowed(t *testing.T) {
	attrs := Attributes{"v": Unset()}

	if err := validateAttrs(attrs, false); err == nil {
		t.Error("unset must be rejected when not allowed")
	}
	if err := validateAttrs(attrs, true); err != nil {
		t.Errorf("unset must pass when allowed, got %v", err)
	}
}

func TestValidateAttrs_Nil(t *testing.T) {
	if err := validateAttrs(nil, false); err != nil {
		t.Errorf("nil attributes are valid, got %v", err)
	}
}

// --- Value Accessor Tests ---

func TestValue_Accessors(t *testing.T) {
	if s, ok := String("x").AsString(); !ok || s != "x" {
		t.Errorf("AsString: got %q, %v", s, ok)
	}
	if _, ok := String("x").AsNumber(); ok {
		t.Error("AsNumber must fail on a string")
	}
	if n, ok := Number(2.5).AsNumber(); !ok || n != 2.5 {
		t.Errorf("AsNumber: got %v, %v", n, ok)
	}
	if b, ok := Bool(true).AsBool(); !ok || !b {
		t.Errorf("AsBool: got %v, %v", b, ok)
	}
}

func TestValue_KindNames(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindString, "string"},
		{KindNumber, "number"},
		{KindBool, "bool"},
		{KindUnset, "unset"},
		{KindInvalid, "invalid"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}

func TestValue_StringRendering(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{String("x"), `"x"`},
		{Number(1.5), "1.5"},
		{Bool(true), "true"},
		{Unset(), "<unset>"},
		{Value{}, "<invalid>"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}

func TestValue_Equal(t *testing.T) {
	if !String("a").Equal(String("a")) {
		t.Error("equal strings must compare equal")
	}
	if String("a").Equal(String("b")) {
		t.Error("different strings must not compare equal")
	}
	if String("1").Equal(Number(1)) {
		t.Error("values of different kinds must not compare equal")
	}
	if !Unset().Equal(Unset()) {
		t.Error("unset must equal unset")
	}
}

// --- Outcome Classification Tests ---

func TestClassify_Committed(t *testing.T) {
	if got := classify(nil); got != committed {
		t.Errorf("expected committed, got %v", got)
	}
}

func TestClassify_Aborted(t *testing.T) {
	if got := classify(redis.TxFailedErr); got != aborted {
		t.Errorf("expected aborted, got %v", got)
	}
	wrapped := fmt.Errorf("commit: %w", redis.TxFailedErr)
	if got := classify(wrapped); got != aborted {
		t.Errorf("expected aborted for wrapped error, got %v", got)
	}
}

func TestClassify_Failed(t *testing.T) {
	if got := classify(errors.New("connection reset")); got != failed {
		t.Errorf("expected failed, got %v", got)
	}
}

func TestTerminal_DomainErrors(t *testing.T) {
	terminals := []error{
		ErrNotFound,
		fmt.Errorf("delete x: %w", ErrNotFound),
		ErrParentNotFound,
		ErrIndexInconsistency,
		&ValidationError{Field: "id", Reason: "empty"},
		context.Canceled,
		context.DeadlineExceeded,
	}
	for _, err := range terminals {
		if !terminal(err) {
			t.Errorf("expected %v to be terminal", err)
		}
	}
}

func TestTerminal_RetryableErrors(t *testing.T) {
	retryables := []error{
		redis.TxFailedErr,
		errors.New("broken pipe"),
	}
	for _, err := range retryables {
		if terminal(err) {
			t.Errorf("expected %v to be retryable", err)
		}
	}
}

// --- Backoff Tests ---

func TestJitter_Range(t *testing.T) {
	d := 10 * time.Millisecond
	for i := 0; i < 1000; i++ {
		j := jitter(d)
		if j < d/2 || j >= d+d/2 {
			t.Fatalf("jitter(%v) = %v, outside [%v, %v)", d, j, d/2, d+d/2)
		}
	}
}

func TestJitter_Zero(t *testing.T) {
	if got := jitter(0); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}

// --- Write Batch Tests ---

// newDetachedBatch returns a batch whose pipeline is never executed, so no
// connection is ever dialed.
func newDetachedBatch() *writeBatch {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	return &writeBatch{ctx: context.Background(), pipe: client.Pipeline()}
}

func TestWriteBatch_CountsCommands(t *testing.T) {
	w := newDetachedBatch()

	w.setFields("entity:a", map[string]string{"f": "s:v"})
	w.setPointer("parent:a", "root")
	w.addMembers("children:root", "a")
	w.removeMembers("children:root", "b")
	w.delFields("entity:a", "f")
	w.del("entity:b", "parent:b")

	if got := w.queued(); got != 6 {
		t.Errorf("expected 6 queued commands, got %d", got)
	}
}

func TestWriteBatch_SkipsEmptyOperations(t *testing.T) {
	w := newDetachedBatch()

	w.setFields("entity:a", nil)
	w.addMembers("children:root")
	w.removeMembers("children:root")
	w.delFields("entity:a")
	w.del()

	if got := w.queued(); got != 0 {
		t.Errorf("no-payload operations must queue nothing, got %d", got)
	}
}

func TestDeleteWrites_LinearInSnapshot(t *testing.T) {
	s := New(nil, Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	attrs := Attributes{}
	for i := 0; i < 5; i++ {
		attrs[fmt.Sprintf("attr%d", i)] = Number(float64(i))
	}
	children := make([]string, 20)
	for i := range children {
		children[i] = fmt.Sprintf("child-%d", i)
	}
	snap := deleteSnapshot{attrs: attrs, parent: "root", children: children}

	w := newDetachedBatch()
	s.deleteWrites(w, "victim", snap)

	// 5 index removals + 1 hash delete + 20 pointer writes + 1 membership
	// add + 1 membership removal + 1 key delete.
	if got := w.queued(); got != 29 {
		t.Errorf("expected 29 commands, got %d", got)
	}
}

func TestDeleteWrites_LeafWithNoAttributes(t *testing.T) {
	s := New(nil, Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	w := newDetachedBatch()
	s.deleteWrites(w, "victim", deleteSnapshot{parent: "root"})

	// Hash delete, membership removal, key delete.
	if got := w.queued(); got != 3 {
		t.Errorf("expected 3 commands, got %d", got)
	}
}

// --- Config.validate Tests ---

func TestConfigValidate_Defaults(t *testing.T) {
	cfg := Config{}
	cfg.validate()

	if cfg.Addr != "localhost:6379" {
		t.Errorf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("expected 5, got %d", cfg.MaxRetries)
	}
	if cfg.RetryBackoff != 10*time.Millisecond {
		t.Errorf("expected 10ms, got %v", cfg.RetryBackoff)
	}
	if cfg.MaxRetryBackoff != 160*time.Millisecond {
		t.Errorf("expected 160ms, got %v", cfg.MaxRetryBackoff)
	}
	if cfg.Logger == nil {
		t.Error("expected default logger")
	}
}

func TestConfigValidate_NegativeValues(t *testing.T) {
	cfg := Config{DB: -1, PoolSize: -4, MaxRetries: -2, RetryBackoff: -time.Second}
	cfg.validate()

	if cfg.DB != 0 {
		t.Errorf("expected DB 0, got %d", cfg.DB)
	}
	if cfg.PoolSize != 0 {
		t.Errorf("expected PoolSize 0, got %d", cfg.PoolSize)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("expected MaxRetries 5, got %d", cfg.MaxRetries)
	}
	if cfg.RetryBackoff != 10*time.Millisecond {
		t.Errorf("expected 10ms, got %v", cfg.RetryBackoff)
	}
}

func TestConfigValidate_BackoffCapBelowFloor(t *testing.T) {
	cfg := Config{RetryBackoff: time.Second, MaxRetryBackoff: time.Millisecond}
	cfg.validate()

	if cfg.MaxRetryBackoff != time.Second {
		t.Errorf("cap must rise to the floor, got %v", cfg.MaxRetryBackoff)
	}
}

func TestConfigValidate_PreservesCustomValues(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{
		Addr:            "redis-primary:6380",
		DB:              3,
		MaxRetries:      1,
		RetryBackoff:    time.Millisecond,
		MaxRetryBackoff: time.Minute,
		Logger:          logger,
	}
	cfg.validate()

	if cfg.Addr != "redis-primary:6380" || cfg.DB != 3 || cfg.MaxRetries != 1 {
		t.Errorf("custom values must survive: %+v", cfg)
	}
	if cfg.MaxRetryBackoff != time.Minute || cfg.Logger != logger {
		t.Errorf("custom values must survive: %+v", cfg)
	}
}
