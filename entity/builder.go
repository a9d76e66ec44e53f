package entity

import (
	"fmt"
	"net/url"

	"github.com/GoCodeAlone/stack-discovery/stack"
)

// Annotation key suffixes. Keys are written as <namespace>/<suffix>.
const (
	AnnotationRegion       = "region"
	AnnotationAccountID    = "accountId"
	AnnotationLookedUpWith = "lookedUpWith"
	AnnotationFunctionName = "functionName"
	AnnotationStackName    = "cloudFormationStackName"
	AnnotationStackID      = "cloudFormationStackId"
	AnnotationLogicalID    = "cloudFormationLogicalId"
	AnnotationRuntime      = "runtime"
)

// Options configures a Builder.
type Options struct {
	AnnotationNamespace string
	LifecycleTag        string
	OwnerTag            string
	ProjectTag          string
	DefaultLifecycle    string
	DefaultOwner        string
}

// DefaultOptions returns the builder defaults.
func DefaultOptions() Options {
	return Options{
		AnnotationNamespace: "aws.amazon.com",
		LifecycleTag:        "lifecycle",
		OwnerTag:            "owner",
		ProjectTag:          "project",
		DefaultLifecycle:    "production",
		DefaultOwner:        "unknown",
	}
}

// Builder converts scanned stacks into entity fragments. It is stateless
// and safe for concurrent use.
type Builder struct {
	opts Options
}

// NewBuilder creates a Builder. Empty option fields fall back to DefaultOptions.
func NewBuilder(opts Options) *Builder {
	def := DefaultOptions()
	if opts.AnnotationNamespace == "" {
		opts.AnnotationNamespace = def.AnnotationNamespace
	}
	if opts.LifecycleTag == "" {
		opts.LifecycleTag = def.LifecycleTag
	}
	if opts.OwnerTag == "" {
		opts.OwnerTag = def.OwnerTag
	}
	if opts.ProjectTag == "" {
		opts.ProjectTag = def.ProjectTag
	}
	if opts.DefaultLifecycle == "" {
		opts.DefaultLifecycle = def.DefaultLifecycle
	}
	if opts.DefaultOwner == "" {
		opts.DefaultOwner = def.DefaultOwner
	}
	return &Builder{opts: opts}
}

// Build produces the stack entity, one function entity per function
// resource, the runtime entities those functions declare, and the edges
// between them. roleARN is the role the stack was read with.
//
// Build never fills in DependsOn/DependencyOf; Graph derives both from the
// edges once all fragments of a cycle are in.
func (b *Builder) Build(s *stack.ScannedStack, roleARN string) Fragment {
	rec := s.Record
	lifecycle := b.tag(rec.Tags, b.opts.LifecycleTag, b.opts.DefaultLifecycle)
	owner := b.tag(rec.Tags, b.opts.OwnerTag, b.opts.DefaultOwner)
	stackLink := Link{URL: stackConsoleURL(rec.Region, rec.ID), Title: "CloudFormation console"}

	common := func() map[string]string {
		return map[string]string{
			b.key(AnnotationRegion):       rec.Region,
			b.key(AnnotationAccountID):    rec.AccountID,
			b.key(AnnotationLookedUpWith): roleARN,
			b.key(AnnotationStackName):    rec.Name,
		}
	}

	stackName := StackIdentity(rec.ID)
	stackAnn := common()
	stackAnn[b.key(AnnotationStackID)] = rec.ID

	var f Fragment
	f.Entities = append(f.Entities, Entity{
		APIVersion: APIVersion,
		Kind:       KindResource,
		Metadata: Metadata{
			Name:        stackName,
			Description: fmt.Sprintf("CloudFormation stack %s (%s)", rec.Name, rec.ID),
			Annotations: stackAnn,
			Links:       []Link{stackLink},
		},
		Spec: Spec{
			Type:      TypeStack,
			Lifecycle: lifecycle,
			Owner:     owner,
			System:    rec.Tags[b.opts.ProjectTag],
		},
	})

	for _, res := range s.Resources {
		if res.Type != stack.FunctionResourceType || res.Status == "DELETE_COMPLETE" {
			continue
		}

		fnName := FunctionIdentity(rec.ID, res.LogicalID)
		ann := common()
		ann[b.key(AnnotationLogicalID)] = res.LogicalID
		links := []Link{stackLink}
		if res.PhysicalID != "" {
			ann[b.key(AnnotationFunctionName)] = res.PhysicalID
			links = append(links, Link{URL: functionConsoleURL(rec.Region, res.PhysicalID), Title: "Lambda console"})
		}

		f.Entities = append(f.Entities, Entity{
			APIVersion: APIVersion,
			Kind:       KindResource,
			Metadata: Metadata{
				Name:        fnName,
				Description: fmt.Sprintf("Lambda function %s (%s) in CloudFormation stack %s", res.PhysicalID, res.LogicalID, rec.Name),
				Annotations: ann,
				Links:       links,
			},
			Spec: Spec{
				Type:      TypeFunction,
				Lifecycle: lifecycle,
				Owner:     owner,
			},
		})
		f.Edges = append(f.Edges, Edge{From: stackName, To: fnName})

		runtime, ok := s.Template[res.LogicalID].StringProperty("Runtime")
		if !ok || runtime == "" {
			continue
		}
		rtName := RuntimeIdentity(runtime)
		f.Entities = append(f.Entities, b.runtime(rtName, runtime))
		f.Edges = append(f.Edges, Edge{From: fnName, To: rtName})
	}
	return f
}

// runtime builds a runtime entity. It carries nothing specific to the
// function or account it was found through, so every emission for the same
// runtime is identical. The only annotation is the runtime itself.
func (b *Builder) runtime(name, runtime string) Entity {
	return Entity{
		APIVersion: APIVersion,
		Kind:       KindResource,
		Metadata: Metadata{
			Name:        name,
			Description: fmt.Sprintf("Lambda runtime %s", runtime),
			Annotations: map[string]string{b.key(AnnotationRuntime): runtime},
			Links:       []Link{},
		},
		Spec: Spec{
			Type:      TypeRuntime,
			Lifecycle: b.opts.DefaultLifecycle,
			Owner:     b.opts.DefaultOwner,
		},
	}
}

func (b *Builder) key(suffix string) string {
	return b.opts.AnnotationNamespace + "/" + suffix
}

func (b *Builder) tag(tags map[string]string, key, def string) string {
	if v := tags[key]; v != "" {
		return v
	}
	return def
}

func stackConsoleURL(region, stackID string) string {
	return fmt.Sprintf("https://%s.console.aws.amazon.com/cloudformation/home?region=%s#/stacks/stackinfo?stackId=%s",
		region, region, url.QueryEscape(stackID))
}

func functionConsoleURL(region, functionName string) string {
	return fmt.Sprintf("https://%s.console.aws.amazon.com/lambda/home?region=%s#/functions/%s",
		region, region, url.PathEscape(functionName))
}
