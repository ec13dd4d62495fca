package format

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/cryptox"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var gkv1Magic = []byte("GKV1")

// LegacyBackupTitle names the top-level group the legacy format uses as its
// backup container.
const LegacyBackupTitle = "Backup"

const defaultPBKDF2Iterations = 210000

// GKV1 is the legacy vault format: PBKDF2-SHA256 and AES-256-GCM over a
// YAML document. It has no tags, custom icons, history or recycle bin;
// those are dropped on encode.
type GKV1 struct {
	Iterations int
}

func (GKV1) Format() models.Format { return models.FormatGKV1 }

func (GKV1) Capabilities() Capabilities { return Capabilities{} }

type gkv1Document struct {
	Generator string   `yaml:"generator"`
	Root      gkv1Node `yaml:"root"`
}

type gkv1Node struct {
	ID          string            `yaml:"id"`
	Group       bool              `yaml:"group,omitempty"`
	Title       string            `yaml:"title"`
	Username    string            `yaml:"username,omitempty"`
	Password    string            `yaml:"password,omitempty"`
	URL         string            `yaml:"url,omitempty"`
	Notes       string            `yaml:"notes,omitempty"`
	Email       string            `yaml:"email,omitempty"`
	Expires     string            `yaml:"expires,omitempty"`
	Icon        int               `yaml:"icon,omitempty"`
	Custom      map[string]string `yaml:"custom,omitempty"`
	Protected   []string          `yaml:"protected,omitempty"`
	Attachments []gkv1Attachment  `yaml:"attachments,omitempty"`
	Created     string            `yaml:"created"`
	Modified    string            `yaml:"modified"`
	Children    []gkv1Node        `yaml:"children,omitempty"`
}

type gkv1Attachment struct {
	Name string `yaml:"name"`
	Data string `yaml:"data"`
}

func (g GKV1) Encode(tree *models.Tree, meta *models.Metadata, key models.CompositeKey) ([]byte, error) {
	secret, err := cryptox.CompositeKeyMaterial(key)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(secret)

	doc := gkv1Document{Generator: meta.Generator, Root: toGKV1(tree, tree.RootID())}
	plaintext, err := yaml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(plaintext)

	iter := g.Iterations
	if iter <= 0 {
		iter = defaultPBKDF2Iterations
	}
	salt := common.GenerateRandByteArray(cryptox.SaltSize)

	var hdr bytes.Buffer
	hdr.Write(gkv1Magic)
	_ = binary.Write(&hdr, binary.BigEndian, uint32(iter))
	hdr.Write(salt)
	aad := bytes.Clone(hdr.Bytes())

	k := cryptox.DerivePBKDF2(secret, salt, iter)
	defer common.WipeByteArray(k)
	ct, nonce, err := cryptox.Seal(k, plaintext, aad)
	if err != nil {
		return nil, err
	}
	hdr.Write(nonce)
	hdr.Write(ct)
	return hdr.Bytes(), nil
}

func (GKV1) Decode(data []byte, key models.CompositeKey) (*models.Tree, *models.Metadata, error) {
	const hdrSize = 4 + 4 + cryptox.SaltSize + cryptox.NonceSize
	if len(data) < hdrSize+cryptox.TagSize || !bytes.HasPrefix(data, gkv1Magic) {
		return nil, nil, corrupt("truncated or not a GKV1 vault")
	}
	secret, err := cryptox.CompositeKeyMaterial(key)
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(secret)

	iter := int(binary.BigEndian.Uint32(data[4:]))
	if iter <= 0 {
		return nil, nil, corrupt("invalid iteration count")
	}
	salt := data[8 : 8+cryptox.SaltSize]
	aad := data[:8+cryptox.SaltSize]
	nonce := data[8+cryptox.SaltSize : hdrSize]

	k := cryptox.DerivePBKDF2(secret, salt, iter)
	defer common.WipeByteArray(k)
	plaintext, err := cryptox.Open(k, data[hdrSize:], nonce, aad)
	if err != nil {
		if errors.Is(err, cryptox.ErrAuthFailed) {
			return nil, nil, corrupt("wrong key or corrupt data")
		}
		return nil, nil, err
	}
	defer common.WipeByteArray(plaintext)

	var doc gkv1Document
	if err := yaml.Unmarshal(plaintext, &doc); err != nil {
		return nil, nil, corrupt("payload: %v", err)
	}

	tree, err := fromGKV1(doc.Root)
	if err != nil {
		return nil, nil, err
	}

	meta := models.NewMetadata(models.FormatGKV1)
	meta.Generator = doc.Generator
	meta.RecycleBinEnabled = false
	for _, c := range tree.Children(tree.RootID()) {
		if c.IsGroup() && c.Fields.Title == LegacyBackupTitle {
			meta.LegacyBackupID = c.ID
			break
		}
	}
	return tree, meta, nil
}

func toGKV1(t *models.Tree, id uuid.UUID) gkv1Node {
	n, _ := t.Get(id)
	f := n.Fields
	out := gkv1Node{
		ID:       n.ID.String(),
		Group:    n.IsGroup(),
		Title:    f.Title,
		Username: f.Username,
		Password: f.Password,
		URL:      f.URL,
		Notes:    f.Notes,
		Email:    f.Email,
		Icon:     f.Icon.Preset,
		Created:  formatTime(f.Created),
		Modified: formatTime(f.Modified),
	}
	if f.Expires != nil {
		out.Expires = formatTime(*f.Expires)
	}
	if len(f.Custom) > 0 {
		out.Custom = make(map[string]string, len(f.Custom))
		for name, cf := range f.Custom {
			out.Custom[name] = cf.Value
			if cf.Protected {
				out.Protected = append(out.Protected, name)
			}
		}
	}
	for _, a := range f.Attachments {
		out.Attachments = append(out.Attachments, gkv1Attachment{
			Name: a.Name,
			Data: base64.StdEncoding.EncodeToString(a.Data),
		})
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, toGKV1(t, c))
	}
	return out
}

func fromGKV1Node(in gkv1Node) (*models.Node, error) {
	id, err := uuid.Parse(in.ID)
	if err != nil {
		return nil, corrupt("node id %q: %v", in.ID, err)
	}
	n := &models.Node{ID: id, Type: models.NodeTypeEntry}
	if in.Group {
		n.Type = models.NodeTypeGroup
	}
	f := models.Fields{
		Title:    in.Title,
		Username: in.Username,
		Password: in.Password,
		URL:      in.URL,
		Notes:    in.Notes,
		Email:    in.Email,
		Icon:     models.Icon{Preset: in.Icon},
	}
	if f.Created, err = parseTime(in.Created); err != nil {
		return nil, err
	}
	if f.Modified, err = parseTime(in.Modified); err != nil {
		return nil, err
	}
	if in.Expires != "" {
		e, err := parseTime(in.Expires)
		if err != nil {
			return nil, err
		}
		f.Expires = &e
	}
	if len(in.Custom) > 0 {
		f.Custom = make(map[string]models.CustomField, len(in.Custom))
		for name, v := range in.Custom {
			f.Custom[name] = models.CustomField{Value: v}
		}
		for _, name := range in.Protected {
			if cf, ok := f.Custom[name]; ok {
				cf.Protected = true
				f.Custom[name] = cf
			}
		}
	}
	for _, a := range in.Attachments {
		data, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			return nil, corrupt("attachment %q: %v", a.Name, err)
		}
		f.Attachments = append(f.Attachments, models.Attachment{Name: a.Name, Data: data})
	}
	n.Fields = f
	return n, nil
}

func fromGKV1(root gkv1Node) (*models.Tree, error) {
	r, err := fromGKV1Node(root)
	if err != nil {
		return nil, err
	}
	tree, err := models.NewTreeWithRoot(r)
	if err != nil {
		return nil, corrupt("root: %v", err)
	}

	var add func(parent uuid.UUID, children []gkv1Node) error
	add = func(parent uuid.UUID, children []gkv1Node) error {
		for _, c := range children {
			n, err := fromGKV1Node(c)
			if err != nil {
				return err
			}
			if err := tree.AddChild(parent, n); err != nil {
				return corrupt("node %s: %v", n.ID, err)
			}
			if err := add(n.ID, c.Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := add(r.ID, root.Children); err != nil {
		return nil, err
	}
	return tree, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, corrupt("timestamp %q: %v", s, err)
	}
	return t.UTC(), nil
}
