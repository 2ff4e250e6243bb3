package compensation

import (
	"fmt"

	"github.com/idc-core/idc/engine/core"
)

// Kind identifies a rollback command.
type Kind string

const (
	KindDeleteDocument     Kind = "delete_document"
	KindRestoreDocument    Kind = "restore_document"
	KindDeleteVersion      Kind = "delete_version"
	KindResetVersionFields Kind = "reset_version_fields"
	KindMarkTaskReverted   Kind = "mark_task_reverted"
	KindUnsetTaskResult    Kind = "unset_task_result"
)

// Command is a serialisable rollback step registered by a task handler.
type Command struct {
	Kind        Kind          `json:"kind"`
	Collection  string        `json:"collection,omitempty"`
	DocumentID  string        `json:"document_id,omitempty"`
	VersionID   string        `json:"version_id,omitempty"`
	Snapshot    core.Document `json:"snapshot,omitempty"`
	Version     int64         `json:"version,omitempty"`
	FromVersion int64         `json:"from_version,omitempty"`
	TaskName    string        `json:"task_name,omitempty"`
	Fields      []string      `json:"fields,omitempty"`
}

func (c Command) String() string {
	switch c.Kind {
	case KindDeleteDocument, KindRestoreDocument, KindResetVersionFields:
		return fmt.Sprintf("%s(%s)", c.Kind, c.DocumentID)
	case KindDeleteVersion:
		return fmt.Sprintf("%s(%s)", c.Kind, c.VersionID)
	default:
		return fmt.Sprintf("%s(%s)", c.Kind, c.TaskName)
	}
}

// DeleteDocument removes a document created by the action.
func DeleteDocument(collection, documentID string) Command {
	return Command{Kind: KindDeleteDocument, Collection: collection, DocumentID: documentID}
}

// RestoreDocument writes snapshot back verbatim, recreating it when absent.
func RestoreDocument(collection string, snapshot core.Document) Command {
	return Command{
		Kind:       KindRestoreDocument,
		Collection: collection,
		DocumentID: snapshot.ID(),
		Snapshot:   snapshot.Clone(),
	}
}

// DeleteVersion removes a version record written by the action.
func DeleteVersion(versionID string) Command {
	return Command{Kind: KindDeleteVersion, Collection: core.VersionsCollection, VersionID: versionID}
}

// ResetVersionFields puts idc_version and from_idc_version back to the given values.
func ResetVersionFields(collection, documentID string, version, fromVersion int64) Command {
	return Command{
		Kind:        KindResetVersionFields,
		Collection:  collection,
		DocumentID:  documentID,
		Version:     version,
		FromVersion: fromVersion,
	}
}

func MarkTaskReverted(taskName string) Command {
	return Command{Kind: KindMarkTaskReverted, TaskName: taskName}
}

func UnsetTaskResult(taskName string, fields ...string) Command {
	return Command{Kind: KindUnsetTaskResult, TaskName: taskName, Fields: fields}
}
