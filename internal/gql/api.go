package gql

import (
	"context"
	"iter"
	"strconv"

	"github.com/twsio/tws/internal/queue"
)

// Pages is one paginated operation's result stream.
type Pages = iter.Seq2[*queue.Response, error]

// SearchRaw pages a search query ("Latest" product).
func (a *API) SearchRaw(ctx context.Context, q string, limit int, extra Vars) Pages {
	vars := Vars{
		"rawQuery":    q,
		"count":       20,
		"product":     "Latest",
		"querySource": "typed_query",
	}
	return a.items(ctx, OpSearchTimeline, merge(vars, extra), nil, limit, "Bottom")
}

// UserByIDRaw fetches one user profile by numeric id.
func (a *API) UserByIDRaw(ctx context.Context, uid int64, extra Vars) (*queue.Response, error) {
	vars := Vars{"userId": strconv.FormatInt(uid, 10), "withSafetyModeUserFields": true}
	ft := map[string]any{
		"hidden_profile_likes_enabled":                         true,
		"highlights_tweets_tab_ui_enabled":                     true,
		"creator_subscriptions_tweet_preview_api_enabled":      true,
		"hidden_profile_subscriptions_enabled":                 true,
		"responsive_web_twitter_article_notes_tab_enabled":     false,
		"subscriptions_feature_can_gift_premium":               false,
		"profile_label_improvements_pcf_label_in_post_enabled": false,
	}
	return a.item(ctx, OpUserByRestID, merge(vars, extra), ft)
}

// UserByLoginRaw fetches one user profile by screen name.
func (a *API) UserByLoginRaw(ctx context.Context, login string, extra Vars) (*queue.Response, error) {
	vars := Vars{"screen_name": login, "withSafetyModeUserFields": true}
	ft := map[string]any{
		"highlights_tweets_tab_ui_enabled":                             true,
		"hidden_profile_likes_enabled":                                 true,
		"creator_subscriptions_tweet_preview_api_enabled":              true,
		"hidden_profile_subscriptions_enabled":                         true,
		"subscriptions_verification_info_verified_since_enabled":       true,
		"subscriptions_verification_info_is_identity_verified_enabled": false,
		"responsive_web_twitter_article_notes_tab_enabled":             false,
		"subscriptions_feature_can_gift_premium":                       false,
		"profile_label_improvements_pcf_label_in_post_enabled":         false,
	}
	return a.item(ctx, OpUserByScreenName, merge(vars, extra), ft)
}

// TweetDetailsRaw fetches one conversation page for a tweet.
func (a *API) TweetDetailsRaw(ctx context.Context, twid int64, extra Vars) (*queue.Response, error) {
	return a.item(ctx, OpTweetDetail, merge(tweetDetailVars(twid), extra), nil)
}

// TweetRepliesRaw pages the reply tree of a tweet. Reply pagination follows
// the ShowMoreThreads cursor rather than Bottom.
func (a *API) TweetRepliesRaw(ctx context.Context, twid int64, limit int, extra Vars) Pages {
	vars := tweetDetailVars(twid)
	vars["referrer"] = "tweet"
	return a.items(ctx, OpTweetDetail, merge(vars, extra), nil, limit, "ShowMoreThreads")
}

func tweetDetailVars(twid int64) Vars {
	return Vars{
		"focalTweetId":                           strconv.FormatInt(twid, 10),
		"with_rux_injections":                    true,
		"includePromotedContent":                 true,
		"withCommunity":                          true,
		"withQuickPromoteEligibilityTweetFields": true,
		"withBirdwatchNotes":                     true,
		"withVoice":                              true,
		"withV2Timeline":                         true,
	}
}

// FollowersRaw pages a user's followers.
func (a *API) FollowersRaw(ctx context.Context, uid int64, limit int, extra Vars) Pages {
	ft := map[string]any{"responsive_web_twitter_article_notes_tab_enabled": false}
	return a.items(ctx, OpFollowers, merge(userListVars(uid), extra), ft, limit, "Bottom")
}

// VerifiedFollowersRaw pages a user's verified followers.
func (a *API) VerifiedFollowersRaw(ctx context.Context, uid int64, limit int, extra Vars) Pages {
	ft := map[string]any{"responsive_web_twitter_article_notes_tab_enabled": true}
	return a.items(ctx, OpBlueVerifiedFollowers, merge(userListVars(uid), extra), ft, limit, "Bottom")
}

// FollowingRaw pages the users someone follows.
func (a *API) FollowingRaw(ctx context.Context, uid int64, limit int, extra Vars) Pages {
	return a.items(ctx, OpFollowing, merge(userListVars(uid), extra), nil, limit, "Bottom")
}

// SubscriptionsRaw pages a user's creator subscriptions.
func (a *API) SubscriptionsRaw(ctx context.Context, uid int64, limit int, extra Vars) Pages {
	return a.items(ctx, OpUserCreatorSubscriptions, merge(userListVars(uid), extra), nil, limit, "Bottom")
}

func userListVars(uid int64) Vars {
	return Vars{
		"userId":                 strconv.FormatInt(uid, 10),
		"count":                  20,
		"includePromotedContent": false,
	}
}

// RetweetersRaw pages the users who retweeted a tweet.
func (a *API) RetweetersRaw(ctx context.Context, twid int64, limit int, extra Vars) Pages {
	vars := Vars{
		"tweetId":                strconv.FormatInt(twid, 10),
		"count":                  20,
		"includePromotedContent": true,
	}
	return a.items(ctx, OpRetweeters, merge(vars, extra), nil, limit, "Bottom")
}

// UserTweetsRaw pages a user's tweets.
func (a *API) UserTweetsRaw(ctx context.Context, uid int64, limit int, extra Vars) Pages {
	vars := Vars{
		"userId":                                 strconv.FormatInt(uid, 10),
		"count":                                  40,
		"includePromotedContent":                 true,
		"withQuickPromoteEligibilityTweetFields": true,
		"withVoice":                              true,
		"withV2Timeline":                         true,
	}
	return a.items(ctx, OpUserTweets, merge(vars, extra), nil, limit, "Bottom")
}

// UserTweetsAndRepliesRaw pages a user's tweets including replies.
func (a *API) UserTweetsAndRepliesRaw(ctx context.Context, uid int64, limit int, extra Vars) Pages {
	vars := Vars{
		"userId":                 strconv.FormatInt(uid, 10),
		"count":                  40,
		"includePromotedContent": true,
		"withCommunity":          true,
		"withVoice":              true,
		"withV2Timeline":         true,
	}
	return a.items(ctx, OpUserTweetsAndReplies, merge(vars, extra), nil, limit, "Bottom")
}

// UserMediaRaw pages a user's media tweets.
func (a *API) UserMediaRaw(ctx context.Context, uid int64, limit int, extra Vars) Pages {
	vars := Vars{
		"userId":                 strconv.FormatInt(uid, 10),
		"count":                  40,
		"includePromotedContent": false,
		"withClientEventToken":   false,
		"withBirdwatchNotes":     false,
		"withVoice":              true,
		"withV2Timeline":         true,
	}
	return a.items(ctx, OpUserMedia, merge(vars, extra), nil, limit, "Bottom")
}

// LikedTweetsRaw pages a user's liked tweets.
//
// Deprecated: likes are no longer served for other users; kept for accounts
// reading their own likes.
func (a *API) LikedTweetsRaw(ctx context.Context, uid int64, limit int, extra Vars) Pages {
	vars := Vars{
		"userId":                 strconv.FormatInt(uid, 10),
		"count":                  40,
		"includePromotedContent": true,
		"withVoice":              true,
		"withV2Timeline":         true,
	}
	return a.items(ctx, OpLikes, merge(vars, extra), nil, limit, "Bottom")
}

// ListTimelineRaw pages a list's latest tweets.
func (a *API) ListTimelineRaw(ctx context.Context, listID int64, limit int, extra Vars) Pages {
	vars := Vars{"listId": strconv.FormatInt(listID, 10), "count": 20}
	return a.items(ctx, OpListLatestTweetsTimeline, merge(vars, extra), nil, limit, "Bottom")
}

// BookmarksRaw pages the leased account's own bookmarks.
func (a *API) BookmarksRaw(ctx context.Context, limit int, extra Vars) Pages {
	vars := Vars{
		"count":                  20,
		"includePromotedContent": false,
		"withClientEventToken":   false,
		"withBirdwatchNotes":     false,
		"withVoice":              true,
		"withV2Timeline":         true,
	}
	ft := map[string]any{"graphql_timeline_v2_bookmark_timeline": true}
	return a.items(ctx, OpBookmarks, merge(vars, extra), ft, limit, "Bottom")
}

func merge(vars, extra Vars) Vars {
	if len(extra) == 0 {
		return vars
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}
