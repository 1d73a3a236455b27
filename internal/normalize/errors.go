package normalize

import (
	"fmt"

	"github.com/sells-group/engine-watch/internal/model"
)

// FieldError reports a raw field that could not be interpreted. The
// normalizer logs it and degrades the field instead of failing the record.
type FieldError struct {
	Source model.Source
	Field  string
	Raw    string
	Err    error
}

func (e *FieldError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("normalize: %s field %q value %q: %v", e.Source, e.Field, e.Raw, e.Err)
	}
	return fmt.Sprintf("normalize: %s field %q value %q", e.Source, e.Field, e.Raw)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
