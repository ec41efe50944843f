package core

import (
	"log/slog"

	"github.com/go-drift/recompose/pkg/slottable"
)

// Subcompose composes content into a child composition that emits into its
// own applier, for example a node whose children are composed lazily. The
// child is kept in a table-marker slot, shares the parent's recomposer and
// sees the composition locals provided around the call. It is disposed
// when the call site leaves the composition.
func Subcompose(c *Composer, applier Applier, content func(*Composer)) *Composition {
	return SubcomposeKeyed(c, slottable.CallSiteKey(1), applier, content)
}

// SubcomposeKeyed is Subcompose with an explicit group key.
func SubcomposeKeyed(c *Composer, key int64, applier Applier, content func(*Composer)) *Composition {
	c.StartGroup(key)
	var sub *Composition
	if owner, ok := c.nextSlot().Owner(); ok {
		sub, _ = owner.(*Composition)
	}
	if sub == nil || sub.applier != applier {
		parent := c.comp
		sub = New(parent.coord, applier,
			WithParent(parent.parent),
			WithLogger(parent.logger),
			WithExecutionHook(parent.executionHook),
			WithEffectContext(parent.effectCtx),
			WithName(parent.Name()+"/sub"),
		)
		c.setSlot(slottable.TableMarker(sub))
	}
	sub.parentLocals = c.locals
	c.EndGroup()

	if err := sub.SetContent(content); err != nil {
		c.comp.logger.Warn("subcomposition failed",
			slog.String("composition", sub.Name()),
			slog.Any("error", err),
		)
	}
	return sub
}
