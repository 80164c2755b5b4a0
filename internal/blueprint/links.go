package blueprint

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/hanpama/gqlforge/internal/auth"
	"github.com/hanpama/gqlforge/internal/config"
	"github.com/hanpama/gqlforge/internal/valid"
)

// compileLinks checks link ids, registers protobuf descriptors and returns
// the script sources.
func (c *compiler) compileLinks() valid.Valid[[]string] {
	seen := make(map[string]bool)
	var scripts []string
	checked := valid.FromIter(c.cfg.Links, func(l *config.Link) valid.Valid[struct{}] {
		if l.ID != "" {
			if seen[l.ID] {
				return valid.Fail[struct{}]("Duplicated id: " + l.ID)
			}
			seen[l.ID] = true
		}
		switch l.Type {
		case config.LinkProtobuf:
			return c.registerDescriptors(l.Content).Trace(l.Src)
		case config.LinkScript:
			scripts = append(scripts, string(l.Content))
		case config.LinkHtpasswd, config.LinkJwks:
		default:
			return valid.Fail[struct{}](fmt.Sprintf("Unknown link type: %s", l.Type)).Trace(l.Src)
		}
		return valid.Unit()
	})
	return valid.Map(checked, func([]struct{}) []string { return scripts })
}

// registerDescriptors adds a serialized FileDescriptorSet to the compiler's
// file registry. Files already registered are skipped.
func (c *compiler) registerDescriptors(content []byte) valid.Valid[struct{}] {
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(content, &set); err != nil {
		return valid.Fail[struct{}]("Invalid descriptor set: " + err.Error())
	}
	resolver := fileResolver{local: c.files}
	for _, fdp := range set.GetFile() {
		if _, err := c.files.FindFileByPath(fdp.GetName()); err == nil {
			continue
		}
		fd, err := protodesc.NewFile(fdp, resolver)
		if err != nil {
			return valid.Fail[struct{}]("Invalid descriptor: " + err.Error())
		}
		if err := c.files.RegisterFile(fd); err != nil {
			return valid.Fail[struct{}]("Invalid descriptor: " + err.Error())
		}
	}
	return valid.Unit()
}

// fileResolver resolves imports from the linked files first and from the
// well-known types compiled into the binary second.
type fileResolver struct {
	local *protoregistry.Files
}

func (r fileResolver) FindFileByPath(path string) (protoreflect.FileDescriptor, error) {
	if fd, err := r.local.FindFileByPath(path); err == nil {
		return fd, nil
	}
	return protoregistry.GlobalFiles.FindFileByPath(path)
}

func (r fileResolver) FindDescriptorByName(name protoreflect.FullName) (protoreflect.Descriptor, error) {
	if d, err := r.local.FindDescriptorByName(name); err == nil {
		return d, nil
	}
	return protoregistry.GlobalFiles.FindDescriptorByName(name)
}

func (c *compiler) findMethod(name string) (protoreflect.MethodDescriptor, bool) {
	d, err := c.files.FindDescriptorByName(protoreflect.FullName(name))
	if err != nil {
		return nil, false
	}
	md, ok := d.(protoreflect.MethodDescriptor)
	return md, ok
}

func (c *compiler) linkContent(id string, typ config.LinkType) valid.Valid[[]byte] {
	l, ok := c.cfg.FindLink(id)
	if !ok {
		return valid.Fail[[]byte]("Link not found: " + id)
	}
	if l.Type != typ {
		return valid.Fail[[]byte](fmt.Sprintf("Link '%s' is not a %s link", id, typ))
	}
	return valid.Succeed(l.Content)
}

func (c *compiler) compileProvider(p *config.AuthProvider) valid.Valid[auth.Verifier] {
	switch {
	case p.Basic != nil:
		return valid.Map(c.linkContent(p.Basic.Link, config.LinkHtpasswd), func(content []byte) auth.Verifier {
			return auth.NewBasic(string(content))
		}).Trace("basic")
	case p.JWT != nil:
		j := p.JWT
		opts := auth.JWTOptions{
			Issuer:      j.Issuer,
			Audiences:   j.Audiences,
			OptionalKid: j.OptionalKid,
			JWKSURL:     j.JWKSURL,
			MaxAge:      time.Duration(j.MaxAge) * time.Second,
			Client:      c.client,
		}
		keys := valid.Succeed[[]byte](nil)
		switch {
		case j.Link != "":
			keys = c.linkContent(j.Link, config.LinkJwks)
		case j.JWKSURL == "":
			keys = valid.Fail[[]byte]("JWT provider requires a link or a jwksUrl")
		}
		return valid.AndThen(keys, func(content []byte) valid.Valid[auth.Verifier] {
			opts.JWKS = content
			v, err := auth.NewJWT(opts)
			return valid.FromError[auth.Verifier](v, err)
		}).Trace("jwt")
	}
	return valid.Fail[auth.Verifier]("Auth provider must be basic or jwt")
}
