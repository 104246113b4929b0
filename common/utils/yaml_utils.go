/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package utils

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// WriteToYAML marshals v and writes it to path, replacing any existing file.
func WriteToYAML(v interface{}, path string) error {
	c, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed marshaling %T to yaml", v)
	}

	if err = os.WriteFile(path, c, 0o644); err != nil {
		return errors.Wrapf(err, "failed writing %s", path)
	}

	return nil
}

// ReadFromYAML unmarshals the yaml file at path into v.
func ReadFromYAML(v any, path string) error {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed reading %s", path)
	}

	if err = yaml.Unmarshal(yamlFile, v); err != nil {
		return errors.Wrapf(err, "failed unmarshaling %s", path)
	}
	return nil
}
