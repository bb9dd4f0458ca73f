// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging provides the logging surface used across the repository.
// It is a thin wrapper over logrus so callers never import logrus directly.
package logging

import (
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetDebug enables debug-level output.
func SetDebug(enabled bool) {
	if enabled {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
}

// Debug logs at debug level with Printf semantics.
func Debug(format string, args ...any) {
	log.Debugf(format, args...)
}

// Info logs at info level with Printf semantics.
func Info(format string, args ...any) {
	log.Infof(format, args...)
}

// Warn logs at warning level with Printf semantics.
func Warn(format string, args ...any) {
	log.Warnf(format, args...)
}

// Error logs at error level with Printf semantics.
func Error(format string, args ...any) {
	log.Errorf(format, args...)
}

// Fatal logs at fatal level with Printf semantics and exits.
func Fatal(format string, args ...any) {
	log.Fatalf(format, args...)
}
