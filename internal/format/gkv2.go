package format

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/cryptox"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/google/uuid"
)

var gkv2Magic = []byte("GKV2")

// header: magic | time u32 | memory u32 | threads u8 | salt | nonce
const gkv2HeaderSize = 4 + 4 + 4 + 1 + cryptox.SaltSize + cryptox.NonceSize

// GKV2 is the current vault format: argon2id key derivation and AES-256-GCM
// over a JSON document. The header is authenticated as associated data.
type GKV2 struct {
	// Params overrides the KDF cost for newly encoded vaults. Zero means
	// cryptox.DefaultKDFParams.
	Params cryptox.KDFParams
}

func (GKV2) Format() models.Format { return models.FormatGKV2 }

func (GKV2) Capabilities() Capabilities {
	return Capabilities{CustomIcons: true, Tags: true, History: true, RecycleBin: true}
}

type gkv2Document struct {
	Meta *models.Metadata `json:"meta"`
	Root gkv2Node         `json:"root"`
}

type gkv2Node struct {
	ID       uuid.UUID       `json:"id"`
	Type     models.NodeType `json:"type"`
	Fields   models.Fields   `json:"fields"`
	History  []models.Fields `json:"history,omitempty"`
	Children []gkv2Node      `json:"children,omitempty"`
}

func (g GKV2) Encode(tree *models.Tree, meta *models.Metadata, key models.CompositeKey) ([]byte, error) {
	secret, err := cryptox.CompositeKeyMaterial(key)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(secret)

	m := meta.Clone()
	m.Format = models.FormatGKV2
	doc := gkv2Document{Meta: m, Root: toGKV2(tree, tree.RootID())}
	plaintext, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(plaintext)

	p := g.Params
	if p == (cryptox.KDFParams{}) {
		p = cryptox.DefaultKDFParams
	}
	salt := common.GenerateRandByteArray(cryptox.SaltSize)

	// associated data is the header up to, not including, the nonce
	var hdr bytes.Buffer
	hdr.Write(gkv2Magic)
	_ = binary.Write(&hdr, binary.BigEndian, p.Time)
	_ = binary.Write(&hdr, binary.BigEndian, p.Memory)
	hdr.WriteByte(p.Threads)
	hdr.Write(salt)
	aad := bytes.Clone(hdr.Bytes())

	k := cryptox.DeriveKey(secret, salt, p)
	defer common.WipeByteArray(k)
	ct, nonce, err := cryptox.Seal(k, plaintext, aad)
	if err != nil {
		return nil, err
	}

	hdr.Write(nonce)
	hdr.Write(ct)
	return hdr.Bytes(), nil
}

func (GKV2) Decode(data []byte, key models.CompositeKey) (*models.Tree, *models.Metadata, error) {
	if len(data) < gkv2HeaderSize+cryptox.TagSize || !bytes.HasPrefix(data, gkv2Magic) {
		return nil, nil, corrupt("truncated or not a GKV2 vault")
	}
	secret, err := cryptox.CompositeKeyMaterial(key)
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(secret)

	off := len(gkv2Magic)
	p := cryptox.KDFParams{
		Time:    binary.BigEndian.Uint32(data[off:]),
		Memory:  binary.BigEndian.Uint32(data[off+4:]),
		Threads: data[off+8],
	}
	off += 9
	if p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
		return nil, nil, corrupt("invalid KDF parameters")
	}
	salt := data[off : off+cryptox.SaltSize]
	aad := data[:off+cryptox.SaltSize]
	off += cryptox.SaltSize
	nonce := data[off : off+cryptox.NonceSize]
	off += cryptox.NonceSize

	k := cryptox.DeriveKey(secret, salt, p)
	defer common.WipeByteArray(k)
	plaintext, err := cryptox.Open(k, data[off:], nonce, aad)
	if err != nil {
		if errors.Is(err, cryptox.ErrAuthFailed) {
			return nil, nil, corrupt("wrong key or corrupt data")
		}
		return nil, nil, err
	}
	defer common.WipeByteArray(plaintext)

	var doc gkv2Document
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return nil, nil, corrupt("payload: %v", err)
	}
	if doc.Meta == nil {
		return nil, nil, corrupt("missing metadata")
	}

	tree, err := fromGKV2(doc.Root)
	if err != nil {
		return nil, nil, err
	}
	doc.Meta.Format = models.FormatGKV2
	return tree, doc.Meta, nil
}

func toGKV2(t *models.Tree, id uuid.UUID) gkv2Node {
	n, _ := t.Get(id)
	out := gkv2Node{ID: n.ID, Type: n.Type, Fields: n.Fields, History: n.History}
	for _, c := range n.Children {
		out.Children = append(out.Children, toGKV2(t, c))
	}
	return out
}

func fromGKV2(root gkv2Node) (*models.Tree, error) {
	tree, err := models.NewTreeWithRoot(&models.Node{
		ID: root.ID, Type: root.Type, Fields: root.Fields, History: root.History,
	})
	if err != nil {
		return nil, corrupt("root: %v", err)
	}

	var add func(parent uuid.UUID, children []gkv2Node) error
	add = func(parent uuid.UUID, children []gkv2Node) error {
		for _, c := range children {
			if c.Type != models.NodeTypeGroup && c.Type != models.NodeTypeEntry {
				return corrupt("node %s has unknown type %q", c.ID, c.Type)
			}
			n := &models.Node{ID: c.ID, Type: c.Type, Fields: c.Fields, History: c.History}
			if err := tree.AddChild(parent, n); err != nil {
				return corrupt("node %s: %v", c.ID, err)
			}
			if err := add(c.ID, c.Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := add(root.ID, root.Children); err != nil {
		return nil, err
	}
	return tree, nil
}
