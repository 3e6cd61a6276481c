package connector

import (
	goerrors "github.com/goliatone/go-errors"
)

func serviceError(message string, category goerrors.Category, textCode string) error {
	return goerrors.New(message, category).WithTextCode(textCode)
}

func serviceWrapError(err error, message string, category goerrors.Category, metadata map[string]any) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if len(metadata) > 0 {
			richErr = richErr.WithMetadata(metadata)
		}
		return richErr
	}
	wrapped := goerrors.Wrap(err, category, message)
	if len(metadata) > 0 {
		wrapped = wrapped.WithMetadata(metadata)
	}
	return wrapped
}
