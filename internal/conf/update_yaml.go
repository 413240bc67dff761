// update_yaml.go
package conf

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
)

// UpdateYAMLConfig updates scalar values in the YAML configuration file in
// place, preserving comments, ordering and untouched sections. It writes to a
// temporary file and then replaces the original file to ensure atomic updates.
// Lists and maps are not rewritten; only scalar keys present in both the file
// and the settings struct are updated.
func UpdateYAMLConfig(configPath string, newSettings *Settings) error {
	// Fall back to a plain write when there is no file to preserve
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return SaveYAMLConfig(configPath, newSettings)
	}

	settingsMap := createSettingsMap(newSettings)

	input, err := os.Open(configPath) //nolint:gosec // G304: configPath comes from FindConfigFile
	if err != nil {
		return fmt.Errorf("error opening config file: %w", err)
	}
	defer input.Close()

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	writer := bufio.NewWriter(tempFile)
	if err := rewriteYAML(input, writer, settingsMap); err != nil {
		tempFile.Close()
		return fmt.Errorf("error processing YAML file: %w", err)
	}

	if err := writer.Flush(); err != nil {
		tempFile.Close()
		return fmt.Errorf("error flushing temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error replacing config file: %w", err)
		}
	}

	return nil
}

// createSettingsMap creates a flat map from the settings struct, keyed by
// lowercase dotted paths matching the YAML layout.
func createSettingsMap(settings *Settings) map[string]any {
	settingsMap := make(map[string]any)
	flattenValue(reflect.ValueOf(settings).Elem(), "", settingsMap)
	return settingsMap
}

// flattenValue recursively flattens struct fields into dotted keys. Fields
// tagged yaml:"-" are runtime-only and skipped. Slices and maps are skipped,
// UpdateYAMLConfig leaves them as written in the file.
func flattenValue(v reflect.Value, prefix string, result map[string]any) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if tag := fieldType.Tag.Get("yaml"); tag == "-" {
			continue
		}

		key := strings.ToLower(fieldType.Name)
		if tag := fieldType.Tag.Get("yaml"); tag != "" {
			key = strings.Split(tag, ",")[0]
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		switch field.Kind() {
		case reflect.Struct:
			flattenValue(field, key, result)
		case reflect.Slice, reflect.Map:
			// left untouched in the file
		default:
			result[key] = field.Interface()
		}
	}
}

// rewriteYAML copies input to output line by line, replacing scalar values
// whose dotted path exists in settingsMap. Indentation tracks the current
// nesting path; comments and blank lines pass through unchanged.
func rewriteYAML(input *os.File, output *bufio.Writer, settingsMap map[string]any) error {
	var path []string
	var indents []int

	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimLeft(line, " ")

		// Pass through blank lines, comments and list items untouched
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "-") {
			fmt.Fprintln(output, line)
			continue
		}

		key, rest, found := strings.Cut(trimmed, ":")
		if !found {
			fmt.Fprintln(output, line)
			continue
		}
		key = strings.TrimSpace(key)
		indent := len(line) - len(trimmed)

		// Pop path levels that ended at this indentation
		for len(indents) > 0 && indent <= indents[len(indents)-1] {
			path = path[:len(path)-1]
			indents = indents[:len(indents)-1]
		}

		dotted := strings.Join(append(append([]string{}, path...), strings.ToLower(key)), ".")

		if strings.TrimSpace(stripInlineComment(rest)) == "" {
			// Section header, descend into it
			path = append(path, strings.ToLower(key))
			indents = append(indents, indent)
			fmt.Fprintln(output, line)
			continue
		}

		newValue, ok := settingsMap[dotted]
		if !ok {
			fmt.Fprintln(output, line)
			continue
		}

		// Preserve any inline comment after the value
		comment := inlineComment(rest)
		fmt.Fprintf(output, "%s%s: %s%s\n", strings.Repeat(" ", indent), key, formatYAMLValue(newValue), comment)
	}

	return scanner.Err()
}

// stripInlineComment returns the value part of a "key: value # comment" rest.
func stripInlineComment(rest string) string {
	if idx := strings.Index(rest, "#"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

// inlineComment returns the trailing comment of a value, including a leading
// space, or the empty string.
func inlineComment(rest string) string {
	if idx := strings.Index(rest, "#"); idx >= 0 {
		return " " + strings.TrimRight(rest[idx:], " ")
	}
	return ""
}

// formatYAMLValue renders a Go scalar as a YAML value.
func formatYAMLValue(value any) string {
	switch v := value.(type) {
	case string:
		if v == "" || strings.ContainsAny(v, ":#{}[]&*!|>%@`\"'") {
			return strconv.Quote(v)
		}
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case RotationType:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
