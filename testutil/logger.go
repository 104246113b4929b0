/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package testutil

import (
	"testing"

	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CreateLogger returns a development logger tagged with the test name and id.
func CreateLogger(t testing.TB, i int) *flogging.FabricLogger {
	return CreateLoggerForModule(t, "", zapcore.InfoLevel).With("id", i)
}

// CreateLoggerForModule returns a development logger for a named module at the given level.
func CreateLoggerForModule(t testing.TB, name string, level zapcore.Level) *flogging.FabricLogger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.Level.SetLevel(level)
	logger, err := logConfig.Build()
	if err != nil {
		t.Fatalf("failed building logger: %v", err)
	}
	logger = logger.With(zap.String("t", t.Name()))
	if name != "" {
		logger = logger.With(zap.String("m", name))
	}
	return flogging.NewFabricLogger(logger)
}
