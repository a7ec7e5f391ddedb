package relationships

import (
	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
)

func errUnknownRelationship(typeName, name string) error {
	return ormerrors.New(ormerrors.ValidationFailed, "unknown relationship %q", name).ForEntity(typeName, nil)
}

func errMaxDepthExceeded(max int) error {
	return ormerrors.New(ormerrors.ValidationFailed, "expand deeper than %d levels", max)
}
