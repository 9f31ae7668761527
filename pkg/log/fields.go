package log

import "time"

// Field is a single structured key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

// F builds a Field from any value.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

func Str(key, value string) Field               { return Field{Key: key, Value: value} }
func Int(key string, value int) Field           { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field       { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field         { return Field{Key: key, Value: value} }
func Dur(key string, value time.Duration) Field { return Field{Key: key, Value: value.String()} }
func Float64(key string, value float64) Field   { return Field{Key: key, Value: value} }
func Strs(key string, values []string) Field    { return Field{Key: key, Value: values} }
func Any(key string, value interface{}) Field   { return Field{Key: key, Value: value} }
func Component(name string) Field               { return Field{Key: ComponentKey, Value: name} }
func Operation(name string) Field               { return Field{Key: OperationKey, Value: name} }

// Err records err under the "error" key.
func Err(err error) Field { return Field{Key: "error", Value: err} }
