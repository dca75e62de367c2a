package models

import "github.com/google/uuid"

// Viewer пользователь, от имени которого идут запросы к API обменов
type Viewer struct {
	ID    uuid.UUID
	Token string
}
