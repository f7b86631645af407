package timeline

import (
	"context"
	"sort"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/logger"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
	"github.com/coolbeans/timeagnostic/pkg/sparql"
)

// expandFunc returns the neighbours of a batch of entities.
type expandFunc func(ctx context.Context, batch []string) ([]string, error)

// traverse walks outward from entity one frontier at a time, up to depth
// hops. The processed set is owned by the call. The start entity is
// never part of the result.
func traverse(ctx context.Context, entity string, depth int, expand expandFunc) ([]string, error) {
	if depth <= 0 {
		return nil, nil
	}
	processed := map[string]struct{}{entity: {}}
	var found []string
	frontier := []string{entity}
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		neighbours, err := expand(ctx, frontier)
		if err != nil {
			return nil, err
		}
		var next []string
		for _, n := range neighbours {
			if _, ok := processed[n]; ok {
				continue
			}
			processed[n] = struct{}{}
			found = append(found, n)
			next = append(next, n)
		}
		frontier = next
	}
	sort.Strings(found)
	return found, nil
}

// RelatedObjects returns the entities reachable from entity through
// non-provenance, non-rdf:type links whose object is a URI, following
// up to depth hops in the current dataset. Failures propagate.
func (e *Engine) RelatedObjects(ctx context.Context, entity string, depth int) ([]string, error) {
	found, err := traverse(ctx, entity, depth, func(ctx context.Context, batch []string) ([]string, error) {
		q := "SELECT DISTINCT ?entity ?p ?related WHERE {\n  VALUES ?entity { " + valuesList(batch) + " }\n" +
			"  ?entity ?p ?related .\n  FILTER(isIRI(?related))\n}"
		return linked(ctx, e.dataset, q, "entity", "related")
	})
	if err != nil {
		return nil, errors.Wrapf(err, "related objects of %s", entity)
	}
	return found, nil
}

// ReverseRelations returns the entities that link to entity through
// non-provenance, non-rdf:type predicates, transitively up to depth hops.
// A store failure yields an empty result and a warning.
func (e *Engine) ReverseRelations(ctx context.Context, entity string, depth int) ([]string, error) {
	found, err := traverse(ctx, entity, depth, func(ctx context.Context, batch []string) ([]string, error) {
		q := "SELECT DISTINCT ?entity ?p ?source WHERE {\n  VALUES ?entity { " + valuesList(batch) + " }\n" +
			"  ?source ?p ?entity .\n  FILTER(isIRI(?source))\n}"
		return linked(ctx, e.dataset, q, "source", "entity")
	})
	if err != nil {
		return nil, e.degrade(entity, "reverse relations", err)
	}
	return found, nil
}

// MergedEntities returns the entities merged into entity: those whose
// snapshots this entity's snapshots were derived from. A store failure
// yields an empty result and a warning.
func (e *Engine) MergedEntities(ctx context.Context, entity string, depth int) ([]string, error) {
	found, err := traverse(ctx, entity, depth, func(ctx context.Context, batch []string) ([]string, error) {
		q := "SELECT DISTINCT ?entity ?target WHERE {\n  VALUES ?entity { " + valuesList(batch) + " }\n" +
			"  ?snapshot " + iri(rdf.ProvSpecializationOf) + " ?entity ;\n" +
			"    " + iri(rdf.ProvWasDerivedFrom) + " ?source .\n" +
			"  ?source " + iri(rdf.ProvSpecializationOf) + " ?target .\n}"
		res, err := e.provenance.Select(ctx, q)
		if err != nil {
			return nil, err
		}
		var out []string
		for _, row := range res.Rows {
			target, self := row["target"], row["entity"]
			if target.IsURI() && target != self {
				out = append(out, target.Value)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, e.degrade(entity, "merged entities", err)
	}
	return found, nil
}

// linked runs q and returns the far end of every traversable link. The
// link runs from the from variable through ?p to the to variable; the
// result is the end that is not in the queried batch.
func linked(ctx context.Context, client sparql.Client, q, from, to string) ([]string, error) {
	res, err := client.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, row := range res.Rows {
		link := rdf.NewTriple(row[from], row["p"], row[to])
		if !link.Subject.IsURI() || !rdf.IsTraversable(link) {
			continue
		}
		if from == "entity" {
			out = append(out, link.Object.Value)
		} else {
			out = append(out, link.Subject.Value)
		}
	}
	return out, nil
}

func (e *Engine) degrade(entity, what string, err error) error {
	e.logger.Warnw("Peripheral discovery failed, continuing without it",
		logger.FieldEntity, entity,
		"discovery", what,
		logger.FieldError, err)
	return errors.Wrapf(err, "%s of %s", what, entity)
}
