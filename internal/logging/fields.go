// Package logging centralizes the structured field keys used across the
// kernel so call sites never repeat string literals, following the
// pattern of the shared logging helpers elsewhere in this codebase.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Fields is a chainable builder over logrus.Fields.
type Fields logrus.Fields

// NewFields returns an empty field set.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(op string) Fields {
	f["operation"] = op
	return f
}

func (f Fields) SystemID(id string) Fields {
	f["system_id"] = id
	return f
}

func (f Fields) ScanID(id string) Fields {
	f["scan_id"] = id
	return f
}

func (f Fields) RuleID(id string) Fields {
	f["rule_id"] = id
	return f
}

func (f Fields) Category(category string) Fields {
	f["category"] = category
	return f
}

func (f Fields) FindingID(id string) Fields {
	f["finding_id"] = id
	return f
}

func (f Fields) AttemptID(id string) Fields {
	f["attempt_id"] = id
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

// ToLogrus adapts Fields for logrus.WithFields.
func (f Fields) ToLogrus() logrus.Fields {
	return logrus.Fields(f)
}
