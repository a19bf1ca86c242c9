package fs

import (
	"fmt"

	edenerrors "github.com/edenfs-go/eden/pkg/errors"
)

func edenNotADirectory(i Inode) error {
	return edenerrors.NewNotADirectory(fmt.Sprintf("inode %d is not a directory", i.Number()))
}

func edenIsADirectory(i Inode) error {
	return edenerrors.NewIsADirectory(fmt.Sprintf("inode %d is a directory", i.Number()))
}

func edenOutOfDateParentErr(requested, actual string) error {
	return edenerrors.NewOutOfDateParent(requested, actual)
}

func edenNotFoundPath(path RelativePath) error {
	return edenerrors.NewNotFound(fmt.Sprintf("%s not found", path), nil)
}
