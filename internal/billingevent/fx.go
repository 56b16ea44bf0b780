package billingevent

import (
	"github.com/smallbiznis/bizcore/internal/billingevent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingevent",
	fx.Provide(service.NewOutbox),
)

// RelayModule needs a message.Publisher, see internal/pubsub.
var RelayModule = fx.Module("billingevent.relay",
	fx.Provide(service.NewRelay),
)
