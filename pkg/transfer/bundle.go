package transfer

import (
	"encoding/binary"
	"errors"

	"github.com/silo-vc/silo/pkg/errs"
	"github.com/silo-vc/silo/pkg/objects"
	"github.com/silo-vc/silo/pkg/types"
)

// A tree bundle is the commit-local metadata payload of a push: every
// tree node reachable from one commit's root Dir, packed
// into a single byte stream so the receiving side can rebuild the
// commit's directory index before any version content arrives. Entries
// are framed [tag byte][len u32 BE][node bytes], where node bytes are the
// same tagged serializations pkg/objects stores (so each entry's store
// key is recomputable from its content on import, never trusted from the
// wire).
const (
	bundleTagDir       = byte(types.KindDir)
	bundleTagVNode     = byte(types.KindVNode)
	bundleTagFile      = byte(types.KindFile)
	bundleTagSchema    = byte(types.KindSchema)
	bundleTagSchemaDef = 0xff // a Schema's own content, keyed by Schema.Hash
)

// ErrCorruptBundle is returned when a tree bundle cannot be parsed.
var ErrCorruptBundle = errors.New("transfer: corrupt tree bundle")

func appendEntry(buf []byte, tag byte, data []byte) []byte {
	buf = append(buf, tag)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(data)))
	buf = append(buf, n[:]...)
	return append(buf, data...)
}

// BundleTree walks the tree rooted at root and serializes every node
// (Dirs, VNodes, FileEntries, SchemaNodes, and any referenced Schema
// contents) into one bundle.
func (s *Session) BundleTree(root types.Hash) ([]byte, error) {
	var buf []byte
	seenSchemas := map[types.Hash]bool{}
	var walk func(dirHash types.Hash) error
	walk = func(dirHash types.Hash) error {
		if dirHash.IsZero() {
			return nil
		}
		d, err := s.Trees.GetDir(dirHash)
		if err != nil {
			return err
		}
		buf = appendEntry(buf, bundleTagDir, objects.SerializeDir(d))
		for _, bucket := range d.Children {
			v, err := s.Trees.GetVNode(bucket.Hash)
			if err != nil {
				return err
			}
			buf = appendEntry(buf, bundleTagVNode, objects.SerializeVNode(v))
			for _, child := range v.Children {
				switch child.Kind {
				case types.KindDir:
					if err := walk(child.Hash); err != nil {
						return err
					}
				case types.KindFile:
					f, err := s.Trees.GetFile(child.Hash)
					if err != nil {
						return err
					}
					buf = appendEntry(buf, bundleTagFile, objects.SerializeFile(f))
					if !f.SchemaHash.IsZero() && !seenSchemas[f.SchemaHash] {
						seenSchemas[f.SchemaHash] = true
						schema, err := s.Trees.GetSchema(f.SchemaHash)
						if err != nil {
							return err
						}
						buf = appendEntry(buf, bundleTagSchemaDef, objects.SerializeSchema(schema))
					}
				case types.KindSchema:
					sn, err := s.Trees.GetSchemaNode(child.Hash)
					if err != nil {
						return err
					}
					buf = appendEntry(buf, bundleTagSchema, objects.SerializeSchemaNode(sn))
				}
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return buf, nil
}

// ImportBundle parses a tree bundle and stores every node it carries,
// recomputing each node's hash/key from its bytes rather than trusting
// any identifier from the wire. Nodes already present are overwritten
// with identical content, so re-importing after an interrupted pull is
// idempotent.
func (s *Session) ImportBundle(data []byte) error {
	pos := 0
	for pos < len(data) {
		if pos+5 > len(data) {
			return errs.New(errs.Corruption, ErrCorruptBundle)
		}
		tag := data[pos]
		n := int(binary.BigEndian.Uint32(data[pos+1 : pos+5]))
		pos += 5
		if n < 0 || pos+n > len(data) {
			return errs.New(errs.Corruption, ErrCorruptBundle)
		}
		entry := data[pos : pos+n]
		pos += n
		if err := s.importEntry(tag, entry); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) importEntry(tag byte, entry []byte) error {
	switch tag {
	case bundleTagDir:
		d, err := objects.DeserializeDir(entry)
		if err != nil {
			return errs.New(errs.Corruption, err)
		}
		d.Hash = types.HashBytes(entry)
		return s.Trees.PutDir(d)
	case bundleTagVNode:
		v, err := objects.DeserializeVNode(entry)
		if err != nil {
			return errs.New(errs.Corruption, err)
		}
		v.Hash = types.HashBytes(entry)
		return s.Trees.PutVNode(v)
	case bundleTagFile:
		f, err := objects.DeserializeFile(entry)
		if err != nil {
			return errs.New(errs.Corruption, err)
		}
		return s.Trees.PutFile(f)
	case bundleTagSchema:
		sn, err := objects.DeserializeSchemaNode(entry)
		if err != nil {
			return errs.New(errs.Corruption, err)
		}
		return s.Trees.PutSchemaNode(sn)
	case bundleTagSchemaDef:
		schema, err := objects.DeserializeSchema(entry)
		if err != nil {
			return errs.New(errs.Corruption, err)
		}
		schema.Hash = schema.ComputeHash()
		return s.Trees.PutSchema(schema)
	default:
		return errs.New(errs.Corruption, ErrCorruptBundle)
	}
}
