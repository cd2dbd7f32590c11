package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// BundleFormatVersion is the only bundle format this engine reads or
// writes. Imports of any other version fail validation.
const BundleFormatVersion = 1

// Bundle is the portable serialization of one workflow: its key, metadata,
// current draft definition and published version snapshots. Workflow and run
// IDs never travel in bundles; imports always mint fresh IDs so bundles are
// portable across environments.
type Bundle struct {
	FormatVersion int             `json:"formatVersion"`
	Key           string          `json:"key"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Draft         Definition      `json:"draft"`
	Versions      []BundleVersion `json:"versions,omitempty"`
}

type BundleVersion struct {
	Version               int            `json:"version"`
	Definition            Definition     `json:"definition"`
	PayloadSchemaSnapshot map[string]any `json:"payloadSchemaSnapshot,omitempty"`
}

// ExportBundle serializes the workflow to canonical JSON: object keys
// sorted, two-space indentation, trailing newline. Byte-identical output for
// identical content makes bundles diffable and version-controllable.
func (e *Engine) ExportBundle(ctx context.Context, workflowID string) ([]byte, error) {
	meta, err := e.store.LookupWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	draft, err := e.store.LookupDraft(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	versions, err := e.store.ListVersions(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	b := Bundle{
		FormatVersion: BundleFormatVersion,
		Key:           meta.Key,
		Metadata:      meta.Metadata,
		Draft:         draft.Definition,
	}
	for _, v := range versions {
		b.Versions = append(b.Versions, BundleVersion{
			Version:               v.Version,
			Definition:            v.Definition,
			PayloadSchemaSnapshot: v.PayloadSchemaSnapshot,
		})
	}

	return canonicalJSON(b)
}

// ImportBundle creates the bundled workflow. Imports are create-only: a
// workflow with the same key already existing fails with ErrConflict unless
// force is set, in which case the existing workflow's definitions are
// replaced and all IDs regenerated. Run history is never touched either way.
func (e *Engine) ImportBundle(ctx context.Context, data []byte, force bool) (*WorkflowMeta, error) {
	var b Bundle
	err := json.Unmarshal(data, &b)
	if err != nil {
		return nil, errors.Wrap(ErrValidation, "bundle is not valid json")
	}
	if b.FormatVersion != BundleFormatVersion {
		return nil, errors.Wrap(ErrValidation, "unsupported bundle format version", j.MKV{
			"format_version": strconv.Itoa(b.FormatVersion),
		})
	}
	if !ValidKey(b.Key) {
		return nil, errors.Wrap(ErrValidation, "invalid workflow key in bundle", j.MKV{
			"key": b.Key,
		})
	}

	existing, err := e.store.LookupWorkflowByKey(ctx, b.Key)
	if err == nil {
		if !force {
			return nil, errors.Wrap(ErrConflict, "", j.MKV{"key": b.Key})
		}
		err = e.store.DeleteWorkflow(ctx, existing.ID)
		if err != nil {
			return nil, err
		}
	} else if !errors.Is(err, ErrWorkflowNotFound) {
		return nil, err
	}

	meta, err := e.CreateWorkflow(ctx, b.Key, b.Metadata)
	if err != nil {
		return nil, err
	}

	err = e.applyBundle(ctx, meta, &b)
	if err != nil {
		// Leave no half-imported workflow behind.
		if delErr := e.store.DeleteWorkflow(ctx, meta.ID); delErr != nil {
			e.logger.Error(ctx, delErr)
		}
		return nil, err
	}

	e.logger.Debug(ctx, "bundle imported", MKV{
		"workflow_id":  meta.ID,
		"workflow_key": meta.Key,
	})
	return meta, nil
}

func (e *Engine) applyBundle(ctx context.Context, meta *WorkflowMeta, b *Bundle) error {
	_, err := e.UpdateDraft(ctx, meta.ID, b.Draft)
	if err != nil {
		return err
	}

	for _, v := range b.Versions {
		if v.Version < 1 {
			return errors.Wrap(ErrValidation, "bundle version numbers start at 1", j.MKV{
				"version": strconv.Itoa(v.Version),
			})
		}
		err = e.store.CreateVersion(ctx, &Version{
			WorkflowID:            meta.ID,
			Version:               v.Version,
			Definition:            v.Definition,
			PayloadSchemaSnapshot: v.PayloadSchemaSnapshot,
			CreatedAt:             e.clock.Now(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// canonicalJSON renders v with all object keys sorted, two-space indentation
// and a trailing newline. The round trip through a generic value is what
// sorts struct fields: encoding/json sorts map keys lexically.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	err = dec.Decode(&generic)
	if err != nil {
		return nil, err
	}

	out, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
