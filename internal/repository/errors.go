package repository

import "fmt"

// StorageError ошибка слоя хранения. Оркестратор воспринимает её как
// повторяемую в рамках следующего прохода, а не как повод падать.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
