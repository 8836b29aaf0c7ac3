package repository

import (
	"errors"
	"fmt"

	"github.com/xscopehub/consultd/internal/model"
)

var (
	errDuplicate  = errors.New("repository: duplicate id")
	errEmptyPatch = errors.New("repository: empty patch")
	// errObjectTaken means another file record already references the storage object.
	errObjectTaken = fmt.Errorf("%w: storage object already recorded", model.ErrInvalidInput)
)
