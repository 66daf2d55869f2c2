/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package log wraps logrus with the fields and caller annotation used across docsync.
package log

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	modulePrefix = "github.com/CovenantSQL/docsync/"
	selfPackage  = modulePrefix + "utils/log."
)

// Levels re-exported so callers need not import logrus.
const (
	FatalLevel = logrus.FatalLevel
	ErrorLevel = logrus.ErrorLevel
	WarnLevel  = logrus.WarnLevel
	InfoLevel  = logrus.InfoLevel
	DebugLevel = logrus.DebugLevel
)

// Fields defines the field map to pass to `WithFields`.
type Fields logrus.Fields

// Entry wraps logrus entry type.
type Entry logrus.Entry

// CallerHook sets the "caller" field on error entries and a "stack" field on
// fatal ones.
type CallerHook struct{}

// Levels implements logrus.Hook.
func (CallerHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

// Fire implements logrus.Hook.
func (CallerHook) Fire(entry *logrus.Entry) error {
	frames := callerFrames()
	if len(frames) == 0 {
		return nil
	}
	entry.Data["caller"] = frames[0]
	if entry.Level <= logrus.FatalLevel {
		entry.Data["stack"] = frames
	}
	return nil
}

// callerFrames lists the frames from the first one outside logrus and this package.
func callerFrames() (frames []string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	it := runtime.CallersFrames(pcs[:n])
	found := false
	for {
		f, more := it.Next()
		if !found {
			found = !strings.Contains(f.Function, "sirupsen/logrus") &&
				(!strings.HasPrefix(f.Function, selfPackage) || strings.HasSuffix(f.File, "_test.go"))
		}
		if found && f.Line > 0 {
			frames = append(frames, fmt.Sprintf("%s:%d %s",
				filepath.Base(f.File), f.Line, strings.TrimPrefix(f.Function, modulePrefix)))
		}
		if !more {
			return
		}
	}
}

func init() {
	logrus.AddHook(CallerHook{})
}

// SetOutput sets the standard logger output.
func SetOutput(out io.Writer) { logrus.SetOutput(out) }

// SetFormatter sets the standard logger formatter.
func SetFormatter(formatter logrus.Formatter) { logrus.SetFormatter(formatter) }

// SetLevel sets the standard logger level.
func SetLevel(level logrus.Level) { logrus.SetLevel(level) }

// GetLevel returns the standard logger level.
func GetLevel() logrus.Level { return logrus.GetLevel() }

// SetStringLevel sets the level by name, falling back to defaultLevel on unknown names.
func SetStringLevel(lvl string, defaultLevel logrus.Level) {
	l, err := logrus.ParseLevel(lvl)
	if err != nil {
		l = defaultLevel
	}
	logrus.SetLevel(l)
}

// WriterLevel returns a writer that logs each line at level, close it when done.
func WriterLevel(level logrus.Level) *io.PipeWriter {
	return logrus.StandardLogger().WriterLevel(level)
}

// WithError creates an entry carrying err.
func WithError(err error) *Entry {
	return (*Entry)(logrus.WithError(err))
}

// WithField creates an entry with one field.
func WithField(key string, value interface{}) *Entry {
	return (*Entry)(logrus.WithField(key, value))
}

// WithFields creates an entry with fields.
func WithFields(fields Fields) *Entry {
	return (*Entry)(logrus.WithFields(logrus.Fields(fields)))
}

func Debugf(format string, args ...interface{}) { logrus.Debugf(format, args...) }
func Info(args ...interface{})                  { logrus.Info(args...) }
func Infof(format string, args ...interface{})  { logrus.Infof(format, args...) }

func (e *Entry) raw() *logrus.Entry { return (*logrus.Entry)(e) }

// WithError adds err to the entry.
func (e *Entry) WithError(err error) *Entry { return (*Entry)(e.raw().WithError(err)) }

// WithField adds one field to the entry.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return (*Entry)(e.raw().WithField(key, value))
}

// WithFields adds fields to the entry.
func (e *Entry) WithFields(fields Fields) *Entry {
	return (*Entry)(e.raw().WithFields(logrus.Fields(fields)))
}

func (e *Entry) Debug(args ...interface{})                   { e.raw().Debug(args...) }
func (e *Entry) Debugf(format string, args ...interface{})   { e.raw().Debugf(format, args...) }
func (e *Entry) Info(args ...interface{})                    { e.raw().Info(args...) }
func (e *Entry) Infof(format string, args ...interface{})    { e.raw().Infof(format, args...) }
func (e *Entry) Warning(args ...interface{})                 { e.raw().Warning(args...) }
func (e *Entry) Warningf(format string, args ...interface{}) { e.raw().Warningf(format, args...) }
func (e *Entry) Error(args ...interface{})                   { e.raw().Error(args...) }
func (e *Entry) Errorf(format string, args ...interface{})   { e.raw().Errorf(format, args...) }
func (e *Entry) Fatal(args ...interface{})                   { e.raw().Fatal(args...) }
